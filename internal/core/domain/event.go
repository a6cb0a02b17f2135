package domain

import "time"

// EventKind classifies a ProxyEvent published on the shared event bus so the
// status CLI and logging can subscribe selectively.
type EventKind string

const (
	EventBackendSelected   EventKind = "backend_selected"
	EventBackendFallback   EventKind = "backend_fallback"
	EventBackendDied       EventKind = "backend_died"
	EventBackendRecovered  EventKind = "backend_recovered"
	EventSessionCompleted  EventKind = "session_completed"
	EventDNSPollution      EventKind = "dns_pollution"
	EventRegistryRefreshed EventKind = "registry_refreshed"
	EventAutoFixLatched    EventKind = "auto_fix_latched"
)

// ProxyEvent is the payload type for the shared eventbus.EventBus instance
// that the registry and the fallback controller publish onto.
type ProxyEvent struct {
	Kind      EventKind
	Backend   string
	Host      string
	Reason    string
	BytesUp   int64
	BytesDown int64
	At        time.Time
}
