package models

// AuditEventType classifies audit trail entries.
type AuditEventType string

const (
	AuditAPICall         AuditEventType = "API_CALL"
	AuditAgentAction     AuditEventType = "AGENT_ACTION"
	AuditStateChange     AuditEventType = "STATE_CHANGE"
	AuditSystemEvent     AuditEventType = "SYSTEM_EVENT"
	AuditUserInteraction AuditEventType = "USER_INTERACTION"
)

// Valid reports whether t is one of the known event types.
func (t AuditEventType) Valid() bool {
	switch t {
	case AuditAPICall, AuditAgentAction, AuditStateChange, AuditSystemEvent, AuditUserInteraction:
		return true
	}
	return false
}

// AuditEntry is an immutable audit trail record. Payload shape depends on Type:
// API_CALL carries a CallRecord snapshot, SYSTEM_EVENT carries a SystemEvent.
// Entries loaded back from storage hold the decoded JSON form.
type AuditEntry struct {
	Payload   any            `json:"payload"`
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      AuditEventType `json:"type"`
}

// SystemEvent is the payload of SYSTEM_EVENT entries.
type SystemEvent struct {
	Details map[string]any `json:"details,omitempty"`
	Event   string         `json:"event"`
}

// Usage summarizes token and cost totals for a set of calls.
type Usage struct {
	Calls           int     `json:"calls"`
	Failures        int     `json:"failures"`
	PromptTokens    int     `json:"promptTokens"`
	CandidateTokens int     `json:"candidateTokens"`
	EstimatedCost   float64 `json:"estimatedCost"`
}
