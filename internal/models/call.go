// Package models defines data structures and domain types.
package models

import (
	"encoding/json"
	"time"
)

// CallStatus is the lifecycle state of a logical API call.
type CallStatus string

const (
	// StatusPending is assigned when a record is created at admission.
	StatusPending CallStatus = "Pending"
	// StatusProcessing means a physical attempt is in flight.
	StatusProcessing CallStatus = "Processing"
	// StatusRetrying means the last attempt failed and another will follow.
	StatusRetrying CallStatus = "Retrying"
	// StatusSuccess is terminal.
	StatusSuccess CallStatus = "Success"
	// StatusFailed is terminal.
	StatusFailed CallStatus = "Failed"
)

// IsTerminal reports whether the status ends the record's lifecycle.
func (s CallStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CallRecord is one entry per logical call. A logical call may span several
// physical attempts because of retries and model fallback. In JSON the
// duration is whole milliseconds.
type CallRecord struct {
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime,omitzero"`
	RequestPayload  any           `json:"requestPayload,omitempty"`
	ResponsePayload any           `json:"responsePayload,omitempty"`
	PromptTokens    *int          `json:"promptTokens,omitempty"`
	CandidateTokens *int          `json:"candidateTokens,omitempty"`
	TotalTokens     *int          `json:"totalTokens,omitempty"`
	EstimatedCost   *float64      `json:"estimatedCost,omitempty"`
	ID              string        `json:"id"`
	Status          CallStatus    `json:"status"`
	AgentName       string        `json:"agentName"`
	Model           string        `json:"model"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"-"`
}

type callRecordJSON CallRecord

// MarshalJSON implements json.Marshaler.
func (r CallRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		callRecordJSON
		DurationMs int64 `json:"duration,omitempty"`
	}{callRecordJSON(r), r.DurationMs()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *CallRecord) UnmarshalJSON(data []byte) error {
	aux := struct {
		*callRecordJSON
		DurationMs int64 `json:"duration"`
	}{callRecordJSON: (*callRecordJSON)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// DurationMs returns the duration in milliseconds, zero while in flight.
func (r CallRecord) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Cost returns the estimated cost or zero when it is unknown.
func (r CallRecord) Cost() float64 {
	if r.EstimatedCost == nil {
		return 0
	}
	return *r.EstimatedCost
}

// Tokens returns prompt and candidate counts, zero when unknown.
func (r CallRecord) Tokens() (prompt, candidate int) {
	if r.PromptTokens != nil {
		prompt = *r.PromptTokens
	}
	if r.CandidateTokens != nil {
		candidate = *r.CandidateTokens
	}
	return prompt, candidate
}
