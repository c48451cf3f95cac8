package retrieval

import (
	"sync"

	"github.com/poiesic/finrag/core"
)

// DefaultWindowSize is the number of turns a Window keeps by default.
const DefaultWindowSize = 10

// Window is a bounded ring buffer of conversation turns. Pushing onto a full
// window drops the oldest turn. It is safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	turns []core.ConversationTurn
	start int
	size  int
}

// NewWindow creates a window holding up to capacity turns.
// A capacity <= 0 uses DefaultWindowSize.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{turns: make([]core.ConversationTurn, capacity)}
}

// Push appends a turn, evicting the oldest when full.
func (w *Window) Push(turn core.ConversationTurn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := (w.start + w.size) % len(w.turns)
	w.turns[end] = turn
	if w.size < len(w.turns) {
		w.size++
	} else {
		w.start = (w.start + 1) % len(w.turns)
	}
}

// Turns returns a copy of the held turns, oldest first.
func (w *Window) Turns() []core.ConversationTurn {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]core.ConversationTurn, w.size)
	for i := range out {
		out[i] = w.turns[(w.start+i)%len(w.turns)]
	}
	return out
}

// Last returns the most recent turn.
func (w *Window) Last() (core.ConversationTurn, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size == 0 {
		return core.ConversationTurn{}, false
	}
	return w.turns[(w.start+w.size-1)%len(w.turns)], true
}

// Len returns the number of held turns.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Cap returns the maximum number of turns.
func (w *Window) Cap() int {
	return len(w.turns)
}
