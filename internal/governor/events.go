package governor

import "time"

// EventType identifies a governor lifecycle event.
type EventType int

const (
	EventAdmitted EventType = iota
	EventRetrying
	EventFallback
	EventSucceeded
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventAdmitted:
		return "admitted"
	case EventRetrying:
		return "retrying"
	case EventFallback:
		return "fallback"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event describes one transition of a logical call.
type Event struct {
	Time      time.Time     `json:"time"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
	RecordID  string        `json:"recordId"`
	AgentName string        `json:"agentName"`
	Model     string        `json:"model"`
	FromModel string        `json:"fromModel,omitempty"`
	Type      EventType     `json:"type"`
	Attempt   int           `json:"attempt"`
	Backoff   time.Duration `json:"backoff,omitempty"`
	Cost      float64       `json:"cost,omitempty"`
}

// Stats is a point-in-time view of the governor.
type Stats struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Retries   int `json:"retries"`
	Fallbacks int `json:"fallbacks"`
}

// sendEvent sends an event to the event channel non-blocking.
func (g *Governor) sendEvent(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if event.Err != nil && event.Error == "" {
		event.Error = event.Err.Error()
	}

	select {
	case g.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-g.eventChan:
		default:
		}
		select {
		case g.eventChan <- event:
		default:
		}
	}
}
