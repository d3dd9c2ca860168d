package model

import "time"

// SequenceAction is one evidence tuple of a suspicious sequence.
type SequenceAction struct {
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}

// Sequence is a multi-record temporal correlation flagged as suspicious.
// Timestamp is the time of the triggering (first) record.
type Sequence struct {
	Type        string           `json:"type"`
	Description string           `json:"description"`
	Reason      string           `json:"reason"`
	Timestamp   time.Time        `json:"timestamp"`
	Actions     []SequenceAction `json:"actions"`
}

// ActionFrom builds the evidence tuple for a record.
func ActionFrom(r Record) SequenceAction {
	return SequenceAction{
		Tool:      r.Tool,
		Timestamp: r.Timestamp,
		Summary:   r.Summary(),
	}
}
