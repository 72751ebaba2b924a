// Package memstore provides in-memory repositories. It backs tests and
// single-process runs; pgstore is the durable counterpart.
package memstore

import (
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// Store bundles the in-memory repositories behind one mutex family.
type Store struct {
	Workflows     *WorkflowRepo
	Artifacts     *ArtifactRepo
	Conversations *ConversationRepo
	Pulses        *PulseRepo
	Sessions      *SessionRepo
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		Workflows:     &WorkflowRepo{items: make(map[string]*workflowRow)},
		Artifacts:     newArtifactRepo(),
		Conversations: newConversationRepo(),
		Pulses:        newPulseRepo(),
		Sessions:      &SessionRepo{items: make(map[string]*sessionRow)},
	}
}

// Repositories adapts the store to the ports bundle.
func (s *Store) Repositories() ports.Repositories {
	return ports.Repositories{
		Workflows:     s.Workflows,
		Artifacts:     s.Artifacts,
		Conversations: s.Conversations,
		Pulses:        s.Pulses,
		Sessions:      s.Sessions,
	}
}
