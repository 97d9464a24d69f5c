package domain

import "time"

// UserRecord holds per-user identity and preferences. Users are created
// explicitly and never expire.
type UserRecord struct {
	ID           string            `json:"id"`
	Language     string            `json:"language,omitempty"`
	Timezone     string            `json:"timezone,omitempty"`
	LastActivity time.Time         `json:"last_activity"`
	Preferences  map[string]string `json:"preferences,omitempty"`
}

// HistoryEntry is one (command, response) pair in a session's bounded history.
type HistoryEntry struct {
	Command  string    `json:"command"`
	Response string    `json:"response"`
	Failed   bool      `json:"failed,omitempty"`
	At       time.Time `json:"at"`
}

// SessionRecord is an ongoing conversational context for a user on a single
// interface. LastAccessed is monotonically non-decreasing; a session is
// active while now-LastAccessed stays under the configured TTL.
type SessionRecord struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Interface      InterfaceTag      `json:"interface"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessed   time.Time         `json:"last_accessed"`
	History        []HistoryEntry    `json:"history,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	LastIntent     string            `json:"last_intent,omitempty"`
	LastParameters map[string]string `json:"last_parameters,omitempty"`
	LastService    string            `json:"last_service,omitempty"`
	ServiceState   map[string]string `json:"service_state,omitempty"`
}

// Clone returns a deep copy so callers can read a snapshot without holding
// the context manager's lock.
func (s *SessionRecord) Clone() *SessionRecord {
	if s == nil {
		return nil
	}
	out := *s
	out.History = append([]HistoryEntry(nil), s.History...)
	out.Variables = cloneMap(s.Variables)
	out.LastParameters = cloneMap(s.LastParameters)
	out.ServiceState = cloneMap(s.ServiceState)
	return &out
}

// DeviceRecord describes a registered end-user device.
type DeviceRecord struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Platform     string            `json:"platform,omitempty"`
	Version      string            `json:"version,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
	State        map[string]string `json:"state,omitempty"`
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
