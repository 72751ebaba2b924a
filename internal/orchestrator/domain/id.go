package domain

import (
	"github.com/segmentio/ksuid"
)

// NewID returns a new sortable entity identifier with a type prefix, e.g.
// "wf_2bTGkS...". Prefixes keep mixed-entity logs readable.
func NewID(prefix string) string {
	return prefix + "_" + ksuid.New().String()
}

func NewWorkflowID() string { return NewID("wf") }
func NewSessionID() string  { return NewID("ses") }
func NewTurnID() string     { return NewID("turn") }
func NewPulseID() string    { return NewID("pulse") }
func NewArtifactID() string { return NewID("art") }
