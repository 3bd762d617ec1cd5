package orchestrator

// Event type tags, the exact strings named in §4.5/§4.6.
const (
	EventCompileStarted      = "compile:started"
	EventSourceStart         = "source:start"
	EventSourceProgress      = "source:progress"
	EventSourceDone          = "source:done"
	EventSourceError         = "source:error"
	EventTransformationStart = "transformation:start"
	EventTransformationDone  = "transformation:done"
	EventDiagnostic          = "diagnostic"
	EventCacheHit            = "cache:hit"
	EventCacheMiss           = "cache:miss"
	EventCacheStore          = "cache:store"
	EventNetworkRetry        = "network:retry"
	EventMetric              = "metric"
	EventCompileComplete     = "compile:complete"
	EventCompileError        = "compile:error"
	EventCompileCancelled    = "compile:cancelled"
)

// Event is one message on a compilation's event stream.
type Event struct {
	Type      string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// EmitFunc receives events as the orchestrator produces them. A nil
// EmitFunc is valid: Compile simply emits nothing.
type EmitFunc func(Event)

func (f EmitFunc) emit(typ string, data map[string]interface{}) {
	if f == nil {
		return
	}
	f(Event{Type: typ, Data: data, Timestamp: nowMillis()})
}
