package reply

import (
	"sync"

	"github.com/cho1y0/neulbom/pkg/types"
)

// conversation is one session's history. Its mutex is held for the whole
// read-call-write cycle of a turn, so turns within a session are serialized.
type conversation struct {
	mu       sync.Mutex
	messages []types.Message // user/assistant pairs, oldest first
}

// histories partitions conversations by session id. Turns for different
// sessions never wait on each other beyond the brief map lookup.
type histories struct {
	mu    sync.Mutex
	convs map[string]*conversation
}

func newHistories() *histories {
	return &histories{convs: make(map[string]*conversation)}
}

// get returns the conversation for id, creating it on first use.
func (h *histories) get(id string) *conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.convs[id]
	if !ok {
		c = &conversation{}
		h.convs[id] = c
	}
	return c
}

func (h *histories) reset(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.convs, id)
}

// turns returns the number of completed exchanges in id.
func (h *histories) turns(id string) int {
	h.mu.Lock()
	c, ok := h.convs[id]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) / 2
}

// snapshot returns a copy of the messages. Must be called with c.mu held.
func (c *conversation) snapshot() []types.Message {
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// commit appends an exchange and trims to the last maxTurns exchanges.
// Must be called with c.mu held.
func (c *conversation) commit(user, assistant string, maxTurns int) {
	c.messages = append(c.messages,
		types.Message{Role: "user", Content: user},
		types.Message{Role: "assistant", Content: assistant},
	)
	if maxTurns > 0 && len(c.messages) > maxTurns*2 {
		c.messages = append([]types.Message(nil), c.messages[len(c.messages)-maxTurns*2:]...)
	}
}
