package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogicScene(t *testing.T) (*Scene, *Node, *scriptedLogic) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Registry = newTestRegistry(t)
	cfg.FixedUpdateRate = 4
	s := NewScene(cfg)
	body := mustChild(t, s.Root(), "body", Replicated)
	sl := newScriptedLogic()
	require.NoError(t, body.AddComponent(sl, Replicated))
	return s, body, sl
}

func TestLogicComponent_CallbackOrder(t *testing.T) {
	s, _, sl := newLogicScene(t)
	assert.Equal(t, []string{"start"}, sl.events)
	assert.Equal(t, UseAllEvents, sl.UpdateEventMask())

	s.Update(0.25)

	assert.Equal(t, []string{
		"start",
		"delayed-start",
		"fixed-update",
		"fixed-post-update",
		"update",
		"post-update",
	}, sl.events)
}

func TestLogicComponent_EventMask(t *testing.T) {
	t.Run("UpdateOnly", func(t *testing.T) {
		s, _, sl := newLogicScene(t)
		sl.SetUpdateEventMask(UseUpdate)

		s.Update(0.25)
		s.Update(0.25)

		assert.Equal(t, 2, sl.updates)
		assert.Zero(t, sl.postUpdates)
		assert.Zero(t, sl.fixedUpdates)
		assert.Zero(t, sl.fixedPostUpdates)
	})

	t.Run("FixedOnly", func(t *testing.T) {
		s, _, sl := newLogicScene(t)
		sl.SetUpdateEventMask(UseFixedUpdate)

		s.Update(0.5)

		assert.Equal(t, 2, sl.fixedUpdates)
		assert.Zero(t, sl.fixedPostUpdates)
		assert.Zero(t, sl.updates)
	})

	t.Run("NoEventsStillDelayedStarts", func(t *testing.T) {
		s, _, sl := newLogicScene(t)
		sl.SetUpdateEventMask(UseNoEvent)

		s.Update(0.25)
		s.Update(0.25)

		assert.Equal(t, []string{"start", "delayed-start"}, sl.events)
		assert.True(t, sl.DelayedStartCalled())
	})
}

func TestLogicComponent_DisabledGating(t *testing.T) {
	s, body, sl := newLogicScene(t)

	body.SetEnabled(false)
	s.Update(0.25)
	assert.Equal(t, []string{"start"}, sl.events)
	assert.False(t, sl.DelayedStartCalled())

	body.SetEnabled(true)
	s.Update(0.25)
	assert.Equal(t, 1, sl.updates)
	assert.True(t, sl.DelayedStartCalled())

	sl.SetEnabled(false)
	s.Update(0.25)
	assert.Equal(t, 1, sl.updates)
}

func TestLogicComponent_DetachAndReattach(t *testing.T) {
	s, body, sl := newLogicScene(t)
	s.Update(0.25)
	require.True(t, sl.DelayedStartCalled())

	body.RemoveComponent(sl)
	assert.Equal(t, "stop", sl.events[len(sl.events)-1])
	assert.False(t, sl.DelayedStartCalled())

	// A removed component no longer receives scene updates.
	before := len(sl.events)
	s.Update(0.25)
	assert.Len(t, sl.events, before)

	// Reattaching runs the whole lifecycle again.
	other := mustChild(t, s.Root(), "other", Replicated)
	require.NoError(t, other.AddComponent(sl, Replicated))
	assert.Equal(t, "start", sl.events[len(sl.events)-1])

	s.Update(0.25)
	assert.Contains(t, sl.events[before+1:], "delayed-start")
	assert.Equal(t, 2, sl.updates)
}

func TestLogicComponent_NodeRemovalStops(t *testing.T) {
	s, body, sl := newLogicScene(t)
	s.Update(0.25)

	body.Remove()

	assert.Equal(t, "stop", sl.events[len(sl.events)-1])
	before := len(sl.events)
	s.Update(0.25)
	assert.Len(t, sl.events, before)
}
