package builtin

import (
	"context"
	"sync"

	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// Notepad accumulates session-scoped notes the agent takes while exploring.
// Notes are working memory, not persisted artifacts.
type Notepad struct {
	mu    sync.Mutex
	notes map[string][]string // sessionID -> notes
}

// NewNotepad constructs an empty notepad.
func NewNotepad() *Notepad {
	return &Notepad{notes: make(map[string][]string)}
}

// Notes returns the notes taken in a session.
func (n *Notepad) Notes(sessionID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notes[sessionID]...)
}

func (n *Notepad) add(sessionID, note string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes[sessionID] = append(n.notes[sessionID], note)
	return len(n.notes[sessionID])
}

type takeNote struct {
	pad *Notepad
}

// NewTakeNote returns the take_note tool.
func NewTakeNote(pad *Notepad) ports.Tool { return &takeNote{pad: pad} }

func (t *takeNote) Execute(_ context.Context, input map[string]any, tc *ports.ToolContext) (*ports.ToolResult, error) {
	note := stringArg(input, "note")
	if note == "" {
		return fail("Error: note must not be empty"), nil
	}
	count := t.pad.add(tc.SessionID, note)
	return ok("Noted (%d note(s) this session)", count), nil
}

func (t *takeNote) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "take_note",
		Description: "Record a working note for this session. Notes are not shown to the user.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: withReason(map[string]ports.Property{
				"note": {Type: "string", Description: "The note to remember"},
			}),
			Required: []string{"note", "reason"},
		},
	}
}
