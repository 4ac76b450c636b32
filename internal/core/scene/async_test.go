package scene

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/events/bus"
)

// saveAsyncLevel produces binary scene data with three subtrees whose
// markers reference two distinct model resources, plus a non-default
// header.
func saveAsyncLevel(t *testing.T) []byte {
	t.Helper()
	donor := newTestScene(t)
	donor.SetTimeScale(2)
	models := []string{"models/knight.mdl", "models/dragon.mdl", "models/knight.mdl"}
	for i, model := range models {
		n := mustChild(t, donor.Root(), fmt.Sprintf("wave%d", i), Replicated)
		mk := newTestMarker()
		require.NoError(t, n.AddComponent(mk, Replicated))
		mk.model = model
	}
	var buf bytes.Buffer
	require.NoError(t, donor.Save(&buf))
	return buf.Bytes()
}

func newAsyncScene(t *testing.T, pre *fakePreloader) *Scene {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Registry = newTestRegistry(t)
	cfg.Resources = pre
	return NewScene(cfg)
}

// drive updates the scene until async loading completes, bounded so a
// stuck loader fails the test instead of hanging it.
func drive(t *testing.T, s *Scene) {
	t.Helper()
	for i := 0; i < 8 && s.IsAsyncLoading(); i++ {
		s.Update(1.0 / 60)
	}
	require.False(t, s.IsAsyncLoading())
}

func TestSceneLoadAsync(t *testing.T) {
	data := saveAsyncLevel(t)

	t.Run("PreloadThenInstantiate", func(t *testing.T) {
		pre := &fakePreloader{job: &fakeJob{total: 2}}
		s := newAsyncScene(t, pre)

		var progressed int
		var finished []AsyncEventData
		_, err := s.Events().Subscribe(EventAsyncLoadProgress, func(e bus.Event) error {
			progressed++
			return nil
		})
		require.NoError(t, err)
		_, err = s.Events().Subscribe(EventAsyncLoadFinished, func(e bus.Event) error {
			finished = append(finished, e.Data().(AsyncEventData))
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, s.LoadAsync(bytes.NewReader(data), LoadSceneAndResources))
		assert.True(t, s.IsAsyncLoading())
		assert.Equal(t, []string{"models/knight.mdl", "models/dragon.mdl"}, pre.requested)

		// The pending resource job holds instantiation back.
		s.Update(1.0 / 60)
		assert.True(t, s.IsAsyncLoading())
		assert.Equal(t, 1, s.NodeCount())
		assert.Equal(t, 1, progressed)
		assert.Less(t, s.AsyncProgress(), float32(1))

		pre.job.done = 2
		pre.job.finished = true
		drive(t, s)

		assert.Equal(t, 4, s.NodeCount())
		assert.NotNil(t, s.Root().ChildByName("wave2", false))
		assert.InDelta(t, 2, s.TimeScale(), 1e-6)
		assert.Equal(t, float32(1), s.AsyncProgress())

		require.Len(t, finished, 1)
		assert.NoError(t, finished[0].Err)
		assert.Equal(t, 3, finished[0].LoadedNodes)
		assert.Equal(t, 3, finished[0].TotalNodes)
		assert.Equal(t, 2, finished[0].LoadedResources)
	})

	t.Run("ResourcesOnlyLeavesSceneAlone", func(t *testing.T) {
		pre := &fakePreloader{}
		s := newAsyncScene(t, pre)
		keeper := mustChild(t, s.Root(), "keeper", Replicated)

		var execFinished int
		_, err := s.Events().Subscribe(EventAsyncExecFinished, func(e bus.Event) error {
			execFinished++
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, s.LoadAsync(bytes.NewReader(data), LoadResourcesOnly))
		assert.Equal(t, []string{"models/knight.mdl", "models/dragon.mdl"}, pre.requested)
		s.Update(1.0 / 60)

		assert.False(t, s.IsAsyncLoading())
		assert.Equal(t, 1, execFinished)
		assert.Same(t, keeper, s.Root().ChildByName("keeper", false))
		assert.Equal(t, 2, s.NodeCount())
		assert.InDelta(t, 1, s.TimeScale(), 1e-6)
	})

	t.Run("SceneOnlySkipsPreloader", func(t *testing.T) {
		pre := &fakePreloader{}
		s := newAsyncScene(t, pre)

		require.NoError(t, s.LoadAsync(bytes.NewReader(data), LoadSceneOnly))
		drive(t, s)

		assert.Empty(t, pre.requested)
		assert.Equal(t, 4, s.NodeCount())
	})

	t.Run("SecondLoadRejected", func(t *testing.T) {
		pre := &fakePreloader{job: &fakeJob{total: 2}}
		s := newAsyncScene(t, pre)

		require.NoError(t, s.LoadAsync(bytes.NewReader(data), LoadSceneAndResources))
		err := s.LoadAsync(bytes.NewReader(data), LoadSceneAndResources)
		assert.ErrorIs(t, err, ErrAsyncInProgress)
	})

	t.Run("StopKeepsCommittedContent", func(t *testing.T) {
		pre := &fakePreloader{job: &fakeJob{total: 2}}
		s := newAsyncScene(t, pre)

		var finished int
		_, err := s.Events().Subscribe(EventAsyncLoadFinished, func(e bus.Event) error {
			finished++
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, s.LoadAsync(bytes.NewReader(data), LoadSceneAndResources))
		s.Update(1.0 / 60)

		require.NoError(t, s.StopAsyncLoading())
		assert.False(t, s.IsAsyncLoading())

		// The header was committed at start; no subtree made it in.
		assert.InDelta(t, 2, s.TimeScale(), 1e-6)
		assert.Equal(t, 1, s.NodeCount())
		assert.Zero(t, finished)

		assert.ErrorIs(t, s.StopAsyncLoading(), ErrAsyncNotActive)
	})

	t.Run("MalformedDataFailsImmediately", func(t *testing.T) {
		s := newAsyncScene(t, &fakePreloader{})
		survivor := mustChild(t, s.Root(), "survivor", Replicated)

		err := s.LoadAsync(bytes.NewReader([]byte("NOPE1234")), LoadSceneAndResources)
		assert.ErrorIs(t, err, ErrMalformedData)
		assert.False(t, s.IsAsyncLoading())
		assert.Same(t, survivor, s.Root().ChildByName("survivor", false))
	})

	t.Run("UnsupportedVersionRejected", func(t *testing.T) {
		s := newAsyncScene(t, &fakePreloader{})
		err := s.LoadAsyncJSON(bytes.NewReader([]byte(`{"version": 99, "root": {"id": 1}}`)), LoadSceneAndResources)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
		assert.False(t, s.IsAsyncLoading())
	})
}
