package resource

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/scene"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestCache(t *testing.T, dirs ...string) *Cache {
	t.Helper()
	c := NewCache(DefaultConfig(), log.Nop())
	for _, dir := range dirs {
		require.NoError(t, c.AddResourceDir(dir, 0))
	}
	return c
}

func TestCache_Get(t *testing.T) {
	t.Run("LoadsRawFromDisk", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "readme.txt", "hello")
		c := newTestCache(t, dir)

		res, err := c.Get(TypeRaw, "readme.txt")
		require.NoError(t, err)
		raw := res.(*RawFile)
		assert.Equal(t, "readme.txt", raw.Name())
		assert.Equal(t, "hello", string(raw.Data()))
		assert.Equal(t, uint64(5), raw.MemoryUse())
	})

	t.Run("CachesSecondLookup", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "readme.txt", "original")
		c := newTestCache(t, dir)

		first, err := c.Get(TypeRaw, "readme.txt")
		require.NoError(t, err)

		// A disk change without a reload must not show through.
		writeFile(t, dir, "readme.txt", "changed")
		second, err := c.Get(TypeRaw, "readme.txt")
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, "original", string(second.(*RawFile).Data()))
	})

	t.Run("SubdirectoryNames", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "models/knight.txt", "mesh data")
		c := newTestCache(t, dir)

		res, err := c.Get(TypeRaw, "models/knight.txt")
		require.NoError(t, err)
		assert.Equal(t, "mesh data", string(res.(*RawFile).Data()))
	})

	t.Run("MissingName", func(t *testing.T) {
		c := newTestCache(t, t.TempDir())
		_, err := c.Get(TypeRaw, "nope.txt")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, c.ResourceCount(TypeRaw))
	})

	t.Run("UnknownType", func(t *testing.T) {
		c := newTestCache(t, t.TempDir())
		_, err := c.Get(Type("mesh"), "anything")
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("CustomRegisteredType", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "table.csv", "a,b,c")
		c := newTestCache(t, dir)
		c.RegisterType(Type("csv"), 0, func() Resource { return NewRawFile() })

		res, err := c.Get(Type("csv"), "table.csv")
		require.NoError(t, err)
		assert.Equal(t, "a,b,c", string(res.(*RawFile).Data()))
	})
}

func TestCache_DirPriority(t *testing.T) {
	t.Run("HigherPriorityWins", func(t *testing.T) {
		base := t.TempDir()
		override := t.TempDir()
		writeFile(t, base, "common.txt", "base")
		writeFile(t, override, "common.txt", "override")

		c := NewCache(DefaultConfig(), log.Nop())
		require.NoError(t, c.AddResourceDir(base, 0))
		require.NoError(t, c.AddResourceDir(override, 10))

		res, err := c.Get(TypeRaw, "common.txt")
		require.NoError(t, err)
		assert.Equal(t, "override", string(res.(*RawFile).Data()))
		assert.Equal(t, []string{override, base}, c.ResourceDirs())
	})

	t.Run("FallsThroughToLower", func(t *testing.T) {
		base := t.TempDir()
		override := t.TempDir()
		writeFile(t, base, "only_base.txt", "base only")

		c := NewCache(DefaultConfig(), log.Nop())
		require.NoError(t, c.AddResourceDir(base, 0))
		require.NoError(t, c.AddResourceDir(override, 10))

		res, err := c.Get(TypeRaw, "only_base.txt")
		require.NoError(t, err)
		assert.Equal(t, "base only", string(res.(*RawFile).Data()))
	})

	t.Run("EqualPriorityKeepsOrder", func(t *testing.T) {
		first := t.TempDir()
		second := t.TempDir()
		writeFile(t, first, "common.txt", "first")
		writeFile(t, second, "common.txt", "second")

		c := newTestCache(t, first, second)
		res, err := c.Get(TypeRaw, "common.txt")
		require.NoError(t, err)
		assert.Equal(t, "first", string(res.(*RawFile).Data()))
	})

	t.Run("MissingDir", func(t *testing.T) {
		c := NewCache(DefaultConfig(), log.Nop())
		err := c.AddResourceDir(filepath.Join(t.TempDir(), "absent"), 0)
		assert.ErrorIs(t, err, ErrDirNotFound)
	})
}

func TestCache_MemoryBudget(t *testing.T) {
	t.Run("EvictsOldestUnreferenced", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", strings.Repeat("a", 40))
		writeFile(t, dir, "b.txt", strings.Repeat("b", 40))
		writeFile(t, dir, "c.txt", strings.Repeat("c", 40))

		c := newTestCache(t, dir)
		require.NoError(t, c.SetMemoryBudget(TypeRaw, 100))

		_, err := c.Get(TypeRaw, "a.txt")
		require.NoError(t, err)
		_, err = c.Get(TypeRaw, "b.txt")
		require.NoError(t, err)
		c.ReleaseResource(TypeRaw, "a.txt")
		c.ReleaseResource(TypeRaw, "b.txt")

		// Touch a so b becomes the eviction candidate.
		_, err = c.Get(TypeRaw, "a.txt")
		require.NoError(t, err)
		c.ReleaseResource(TypeRaw, "a.txt")

		_, err = c.Get(TypeRaw, "c.txt")
		require.NoError(t, err)

		assert.Equal(t, []string{"a.txt", "c.txt"}, c.ResourceNames(TypeRaw))
		assert.Equal(t, uint64(80), c.MemoryUse(TypeRaw))
	})

	t.Run("NeverEvictsReferenced", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", strings.Repeat("a", 60))
		writeFile(t, dir, "b.txt", strings.Repeat("b", 60))

		c := newTestCache(t, dir)
		require.NoError(t, c.SetMemoryBudget(TypeRaw, 100))

		_, err := c.Get(TypeRaw, "a.txt")
		require.NoError(t, err)
		_, err = c.Get(TypeRaw, "b.txt")
		require.NoError(t, err)

		// Both referenced: over budget but nothing evictable.
		assert.Equal(t, 2, c.ResourceCount(TypeRaw))
		assert.Equal(t, uint64(120), c.MemoryUse(TypeRaw))

		c.ReleaseResource(TypeRaw, "a.txt")
		require.NoError(t, c.SetMemoryBudget(TypeRaw, 100))
		assert.Equal(t, []string{"b.txt"}, c.ResourceNames(TypeRaw))
	})

	t.Run("ZeroBudgetDisablesEviction", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "big.txt", strings.Repeat("x", 4096))
		c := newTestCache(t, dir)

		_, err := c.Get(TypeRaw, "big.txt")
		require.NoError(t, err)
		c.ReleaseResource(TypeRaw, "big.txt")
		assert.Equal(t, 1, c.ResourceCount(TypeRaw))
	})

	t.Run("UnknownType", func(t *testing.T) {
		c := newTestCache(t, t.TempDir())
		assert.ErrorIs(t, c.SetMemoryBudget(Type("mesh"), 100), ErrUnknownType)
	})
}

func TestCache_ReleaseAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "aaaa")
	writeFile(t, dir, "b.txt", "bbbb")

	c := newTestCache(t, dir)
	_, err := c.Get(TypeRaw, "a.txt")
	require.NoError(t, err)
	_, err = c.Get(TypeRaw, "b.txt")
	require.NoError(t, err)

	t.Run("WithoutForceKeepsEntries", func(t *testing.T) {
		c.ReleaseAll(TypeRaw, false)
		assert.Equal(t, 2, c.ResourceCount(TypeRaw))
	})

	t.Run("ForceRemovesEntries", func(t *testing.T) {
		c.ReleaseAll(TypeRaw, true)
		assert.Zero(t, c.ResourceCount(TypeRaw))
		assert.Zero(t, c.MemoryUse(TypeRaw))
	})
}

func TestCache_Reload(t *testing.T) {
	t.Run("ReplacesContentInPlace", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.txt", "v1")
		c := newTestCache(t, dir)

		res, err := c.Get(TypeRaw, "config.txt")
		require.NoError(t, err)

		writeFile(t, dir, "config.txt", "version two")
		require.NoError(t, c.ReloadResource(TypeRaw, "config.txt"))
		assert.Equal(t, "version two", string(res.(*RawFile).Data()))
		assert.Equal(t, uint64(len("version two")), c.MemoryUse(TypeRaw))
	})

	t.Run("NotLoaded", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.txt", "v1")
		c := newTestCache(t, dir)
		assert.ErrorIs(t, c.ReloadResource(TypeRaw, "config.txt"), ErrNotLoaded)
	})

	t.Run("KeepsContentWhenFileVanishes", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "config.txt", "survivor")
		c := newTestCache(t, dir)

		res, err := c.Get(TypeRaw, "config.txt")
		require.NoError(t, err)
		require.NoError(t, os.Remove(path))

		assert.ErrorIs(t, c.ReloadResource(TypeRaw, "config.txt"), ErrNotFound)
		assert.Equal(t, "survivor", string(res.(*RawFile).Data()))
	})
}

func TestCache_SceneFiles(t *testing.T) {
	saveScene := func(t *testing.T, save func(*scene.Scene, *bytes.Buffer)) []byte {
		t.Helper()
		s := scene.NewScene(scene.Config{})
		world, err := s.Root().CreateChild("world", scene.Replicated)
		require.NoError(t, err)
		_, err = world.CreateChild("player", scene.Replicated)
		require.NoError(t, err)

		var buf bytes.Buffer
		save(s, &buf)
		return buf.Bytes()
	}

	load := func(t *testing.T, c *Cache, name string) *SceneFile {
		t.Helper()
		res, err := c.Get(TypeScene, name)
		require.NoError(t, err)
		return res.(*SceneFile)
	}

	t.Run("BinaryRoundTrip", func(t *testing.T) {
		data := saveScene(t, func(s *scene.Scene, buf *bytes.Buffer) {
			require.NoError(t, s.Save(buf))
		})
		dir := t.TempDir()
		writeFile(t, dir, "level.scene", string(data))

		c := newTestCache(t, dir)
		sf := load(t, c, "level.scene")
		assert.Equal(t, FormatBinary, sf.Format())

		target := scene.NewScene(scene.Config{})
		require.NoError(t, sf.ApplyTo(target))
		world := target.Root().ChildByName("world", false)
		require.NotNil(t, world)
		assert.NotNil(t, world.ChildByName("player", false))
	})

	t.Run("JSONDetected", func(t *testing.T) {
		data := saveScene(t, func(s *scene.Scene, buf *bytes.Buffer) {
			require.NoError(t, s.SaveJSON(buf))
		})
		dir := t.TempDir()
		writeFile(t, dir, "level.json", string(data))

		c := newTestCache(t, dir)
		sf := load(t, c, "level.json")
		assert.Equal(t, FormatJSON, sf.Format())

		target := scene.NewScene(scene.Config{})
		require.NoError(t, sf.ApplyTo(target))
		assert.NotNil(t, target.Root().ChildByName("world", false))
	})

	t.Run("XMLDetected", func(t *testing.T) {
		data := saveScene(t, func(s *scene.Scene, buf *bytes.Buffer) {
			require.NoError(t, s.SaveXML(buf))
		})
		dir := t.TempDir()
		writeFile(t, dir, "level.xml", string(data))

		c := newTestCache(t, dir)
		sf := load(t, c, "level.xml")
		assert.Equal(t, FormatXML, sf.Format())
	})

	t.Run("GarbageRejected", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "broken.scene", "!!! not a scene")
		c := newTestCache(t, dir)

		_, err := c.Get(TypeScene, "broken.scene")
		assert.ErrorIs(t, err, ErrUnknownFormat)
		// Failed loads leave no cache entry behind.
		assert.Zero(t, c.ResourceCount(TypeScene))
	})
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data string
		want Format
	}{
		{"Binary", scene.BinaryMagic + "\x01\x00", FormatBinary},
		{"JSON", `{"name":"root"}`, FormatJSON},
		{"JSONLeadingWhitespace", "  \n\t{}", FormatJSON},
		{"XML", `<scene></scene>`, FormatXML},
		{"XMLLeadingWhitespace", "\n <scene/>", FormatXML},
		{"Empty", "", FormatUnknown},
		{"WhitespaceOnly", " \n\t", FormatUnknown},
		{"PlainText", "hello world", FormatUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectFormat([]byte(tc.data)))
		})
	}
}
