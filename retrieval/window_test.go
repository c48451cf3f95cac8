package retrieval

import (
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/finrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turn(text string) core.ConversationTurn {
	return core.ConversationTurn{Role: core.RoleUser, Text: text}
}

func texts(turns []core.ConversationTurn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Text
	}
	return out
}

func TestWindow(t *testing.T) {
	t.Run("default capacity", func(t *testing.T) {
		assert.Equal(t, DefaultWindowSize, NewWindow(0).Cap())
		assert.Equal(t, DefaultWindowSize, NewWindow(-3).Cap())
	})

	t.Run("empty", func(t *testing.T) {
		w := NewWindow(3)
		assert.Zero(t, w.Len())
		assert.Empty(t, w.Turns())
		_, ok := w.Last()
		assert.False(t, ok)
	})

	t.Run("keeps insertion order below capacity", func(t *testing.T) {
		w := NewWindow(3)
		w.Push(turn("a"))
		w.Push(turn("b"))
		assert.Equal(t, 2, w.Len())
		assert.Equal(t, []string{"a", "b"}, texts(w.Turns()))

		last, ok := w.Last()
		require.True(t, ok)
		assert.Equal(t, "b", last.Text)
	})

	t.Run("evicts oldest when full", func(t *testing.T) {
		w := NewWindow(3)
		for _, s := range []string{"a", "b", "c", "d", "e"} {
			w.Push(turn(s))
		}
		assert.Equal(t, 3, w.Len())
		assert.Equal(t, []string{"c", "d", "e"}, texts(w.Turns()))

		last, ok := w.Last()
		require.True(t, ok)
		assert.Equal(t, "e", last.Text)
	})

	t.Run("turns is a copy", func(t *testing.T) {
		w := NewWindow(2)
		w.Push(turn("a"))
		turns := w.Turns()
		turns[0].Text = "changed"
		assert.Equal(t, []string{"a"}, texts(w.Turns()))
	})

	t.Run("concurrent pushes", func(t *testing.T) {
		w := NewWindow(5)
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Push(turn(fmt.Sprint(i)))
			}()
		}
		wg.Wait()
		assert.Equal(t, 5, w.Len())
	})
}
