package domain

import "time"

// Intent is the structured classification of a raw command.
type Intent struct {
	Name       IntentName        `json:"intent"`
	Confidence float64           `json:"confidence"`
	Parameters map[string]string `json:"parameters,omitempty"`
	// ParamErrors collects slot validation failures (for example an
	// out-of-range GPIO pin). Dispatch proceeds; downstream services decide.
	// On the wire these travel under the "__errors" parameter key.
	ParamErrors []string `json:"param_errors,omitempty"`
	Text        string   `json:"text"`
}

// WireParameters flattens Parameters plus the __errors marker into the
// payload shape downstream services expect.
func (i *Intent) WireParameters() map[string]any {
	out := make(map[string]any, len(i.Parameters)+1)
	for k, v := range i.Parameters {
		out[k] = v
	}
	if len(i.ParamErrors) > 0 {
		out["__errors"] = append([]string(nil), i.ParamErrors...)
	}
	return out
}

// CommandRequest is one submission travelling through the pipeline.
// Cancellation is carried by the context the request was submitted with,
// not by the struct itself.
type CommandRequest struct {
	ID          string       `json:"request_id"`
	UserID      string       `json:"user_id,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	Interface   InterfaceTag `json:"interface"`
	Text        string       `json:"text"`
	Priority    Priority     `json:"priority"`
	SubmittedAt time.Time    `json:"submitted_at"`
	// Deadline is the absolute point the request must complete by.
	// Zero means the pipeline default applies.
	Deadline time.Time `json:"deadline,omitempty"`
}

// CommandResult is the terminal outcome delivered back to the originating
// adapter. ErrorKind is empty on success and one of the errors.Kind codes
// otherwise.
type CommandResult struct {
	RequestID    string        `json:"request_id"`
	Success      bool          `json:"success"`
	Response     string        `json:"response,omitempty"`
	Interface    InterfaceTag  `json:"interface"`
	SessionID    string        `json:"session_id,omitempty"`
	Latency      time.Duration `json:"-"`
	LatencyMs    int64         `json:"latency_ms"`
	ErrorKind    string        `json:"error,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
