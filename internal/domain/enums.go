package domain

// InterfaceTag identifies the front-end surface a command arrived on.
type InterfaceTag string

const (
	InterfaceVoice  InterfaceTag = "voice"
	InterfaceText   InterfaceTag = "text"
	InterfaceWeb    InterfaceTag = "web"
	InterfaceMobile InterfaceTag = "mobile"
)

// Valid reports whether the tag is one of the known interfaces.
func (t InterfaceTag) Valid() bool {
	switch t {
	case InterfaceVoice, InterfaceText, InterfaceWeb, InterfaceMobile:
		return true
	}
	return false
}

// Priority is the admission priority of a command submission.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for queue scheduling; lower rank dequeues first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Valid reports whether the priority is one of the four bands.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// TransportTag selects the wire protocol used to reach a downstream service.
type TransportTag string

const (
	TransportHTTP   TransportTag = "http"
	TransportMQTT   TransportTag = "mqtt"
	TransportInproc TransportTag = "inproc"
)

// HealthStatus is the registry's view of a downstream service.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Rank orders health for candidate sorting; lower is better.
func (h HealthStatus) Rank() int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthUnknown:
		return 2
	case HealthUnhealthy:
		return 3
	default:
		return 3
	}
}

// IntentName is the closed enumeration of command intents.
type IntentName string

const (
	IntentPlayMusic     IntentName = "play_music"
	IntentControlVolume IntentName = "control_volume"
	IntentSwitchAudio   IntentName = "switch_audio"
	IntentSystemControl IntentName = "system_control"
	IntentSmartHome     IntentName = "smart_home"
	IntentCommunication IntentName = "communication"
	IntentNavigation    IntentName = "navigation"
	IntentGPIOControl   IntentName = "gpio_control"
	IntentUnknown       IntentName = "unknown"
)

// IntentOrder is the fixed enumeration order used for deterministic
// tie-breaking during classification.
var IntentOrder = []IntentName{
	IntentPlayMusic,
	IntentControlVolume,
	IntentSwitchAudio,
	IntentSystemControl,
	IntentSmartHome,
	IntentCommunication,
	IntentNavigation,
	IntentGPIOControl,
	IntentUnknown,
}
