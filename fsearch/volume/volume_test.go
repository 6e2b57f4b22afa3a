package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filesystem"
	"github.com/ZanzyTHEbar/filesearch/fsearch/journal"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testJournalID = 0xA1

// JournalVolumeSuite drives a volume backed by an in-memory change journal.
type JournalVolumeSuite struct {
	suite.Suite
	ctx      context.Context
	dir      string
	indexDir string
	jr       *journal.Memory
	state    *StateFile
	vol      *Volume
}

func TestJournalVolumeSuite(t *testing.T) {
	suite.Run(t, new(JournalVolumeSuite))
}

func (s *JournalVolumeSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
	s.indexDir = filepath.Join(s.dir, "index")

	s.jr = journal.NewMemory(testJournalID)
	s.jr.Create(100, filemap.RootRef, "alpha.txt")
	s.jr.Create(101, filemap.RootRef, "beta.txt")
	s.jr.Create(102, filemap.RootRef, "docs")
	s.jr.Create(103, 102, "report.pdf")

	var err error
	s.state, err = OpenStateFile(filepath.Join(s.dir, "journal.toml"))
	s.Require().NoError(err)
	s.vol = s.newVolume(s.indexDir)
}

func (s *JournalVolumeSuite) TearDownTest() {
	s.vol.Close()
}

func (s *JournalVolumeSuite) newVolume(indexDir string) *Volume {
	idx := NewJournalIndexer("C:", s.jr.Opener(), s.state, zerolog.Nop())
	return New("C:", idx, indexDir, zerolog.Nop())
}

func (s *JournalVolumeSuite) find(v *Volume, q string) []string {
	items, err := v.Find(s.ctx, q, 50)
	s.Require().NoError(err)
	paths := make([]string, 0, len(items))
	for _, it := range items {
		paths = append(paths, it.Path)
	}
	return paths
}

func (s *JournalVolumeSuite) TestBuildPersistsAndReleases() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	st := s.vol.Stats()
	s.False(st.Loaded)
	s.True(st.OnDisk)
	s.Positive(st.IndexSize)
	s.Equal("journal", st.Strategy)

	saved, ok := s.state.Get("C:")
	s.Require().True(ok)
	id, ok := saved.Journal()
	s.True(ok)
	s.Equal(uint64(testJournalID), id)
	s.Equal(int64(5), saved.USN)
	s.Equal(5, saved.Records)
}

func (s *JournalVolumeSuite) TestFindLoadsLazily() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	s.Equal([]string{`C:\docs\report.pdf`}, s.find(s.vol, "report"))
	s.True(s.vol.Stats().Loaded)
}

func (s *JournalVolumeSuite) TestMissingIndexBuildsOnFind() {
	s.Equal([]string{`C:\beta.txt`}, s.find(s.vol, "beta"))
	s.True(s.vol.Stats().OnDisk)
}

func (s *JournalVolumeSuite) TestCorruptIndexRebuilds() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))
	s.Require().NoError(os.WriteFile(IndexPath(s.indexDir, "C:"), []byte("garbage"), 0o644))

	s.Equal([]string{`C:\beta.txt`}, s.find(s.vol, "beta"))
	s.Equal(int64(2), s.vol.Stats().Metrics.Builds)
}

func (s *JournalVolumeSuite) TestIncrementalUpdate() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	s.jr.Delete(100)
	s.jr.Create(104, filemap.RootRef, "gamma.txt")
	s.Require().NoError(s.vol.UpdateIndex(s.ctx))

	s.Empty(s.find(s.vol, "alpha"))
	s.Equal([]string{`C:\beta.txt`}, s.find(s.vol, "beta"))
	s.Equal([]string{`C:\gamma.txt`}, s.find(s.vol, "gamma"))
	s.Equal(uint64(2), s.vol.Stats().Dirty)
}

func (s *JournalVolumeSuite) TestRenameMovesEntry() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	s.jr.Rename(103, filemap.RootRef, "summary.pdf")
	s.Require().NoError(s.vol.UpdateIndex(s.ctx))

	s.Empty(s.find(s.vol, "report"))
	s.Equal([]string{`C:\summary.pdf`}, s.find(s.vol, "summary"))
}

func (s *JournalVolumeSuite) TestReleasePersistsUpdates() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))
	s.jr.Create(104, filemap.RootRef, "gamma.txt")
	s.Require().NoError(s.vol.UpdateIndex(s.ctx))
	s.Require().NoError(s.vol.ReleaseIndex())

	st := s.vol.Stats()
	s.False(st.Loaded)
	s.Zero(st.Dirty)

	saved, _ := s.state.Get("C:")
	s.Equal(int64(6), saved.USN)

	fresh := s.newVolume(s.indexDir)
	defer fresh.Close()
	s.Equal([]string{`C:\gamma.txt`}, s.find(fresh, "gamma"))
	s.Equal(int64(0), fresh.Stats().Metrics.Builds)
}

func (s *JournalVolumeSuite) TestReleaseUnloadedIsNoop() {
	s.NoError(s.vol.ReleaseIndex())
	s.False(s.vol.Stats().OnDisk)
}

func (s *JournalVolumeSuite) TestRecreatedJournalRebuilds() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	s.jr.Recreate(0xB2)
	s.jr.Create(105, filemap.RootRef, "delta.txt")
	s.Require().NoError(s.vol.UpdateIndex(s.ctx))

	s.Equal([]string{`C:\delta.txt`}, s.find(s.vol, "delta"))
	s.Equal(int64(2), s.vol.Stats().Metrics.Builds)

	saved, _ := s.state.Get("C:")
	id, _ := saved.Journal()
	s.Equal(uint64(0xB2), id)
}

func (s *JournalVolumeSuite) TestPurgedJournalRebuilds() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	s.jr.Create(106, filemap.RootRef, "epsilon.txt")
	s.jr.Purge(100)
	s.Require().NoError(s.vol.UpdateIndex(s.ctx))

	s.Equal([]string{`C:\epsilon.txt`}, s.find(s.vol, "epsilon"))
}

func (s *JournalVolumeSuite) TestUpdateBeforeBuild() {
	s.Require().NoError(s.vol.UpdateIndex(s.ctx))
	s.Equal([]string{`C:\beta.txt`}, s.find(s.vol, "beta"))
}

func (s *JournalVolumeSuite) TestOpenFailure() {
	s.jr.FailOpen(errors.New("access denied"))

	err := s.vol.BuildIndex(s.ctx)
	s.Require().Error(err)

	var ie *common.IndexError
	s.Require().True(errors.As(err, &ie))
	s.Equal("build", ie.Op)
	s.Equal("C:", ie.Volume)
	s.Equal(int64(1), s.vol.Stats().Metrics.FailedBuilds)
}

func (s *JournalVolumeSuite) TestPersistFailureKeepsStore() {
	blocker := filepath.Join(s.dir, "blocker")
	s.Require().NoError(os.WriteFile(blocker, nil, 0o644))
	vol := s.newVolume(filepath.Join(blocker, "index"))
	defer vol.indexer.Close()

	s.Require().NoError(vol.BuildIndex(s.ctx))
	s.True(vol.Stats().Loaded)

	s.Error(vol.ReleaseIndex())
	s.True(vol.Stats().Loaded)
	s.Equal([]string{`C:\beta.txt`}, s.find(vol, "beta"))
}

func (s *JournalVolumeSuite) TestFindPagination() {
	for i := 0; i < 30; i++ {
		s.jr.Create(uint64(200+i), filemap.RootRef, fmt.Sprintf("file%02d.txt", i))
	}
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	seen := make(map[string]bool)
	for page := 0; page < 3; page++ {
		items, err := s.vol.Find(s.ctx, "file", 10)
		s.Require().NoError(err)
		s.Len(items, 10)
		for _, it := range items {
			s.False(seen[it.Path], "duplicate %s", it.Path)
			seen[it.Path] = true
		}
	}
	s.Len(seen, 30)

	items, err := s.vol.Find(s.ctx, "file", 10)
	s.Require().NoError(err)
	s.Empty(items)

	// a different query starts over
	items, err = s.vol.Find(s.ctx, "file0", 10)
	s.Require().NoError(err)
	s.Len(items, 10)
}

func (s *JournalVolumeSuite) TestCancelledFindKeepsPosition() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	first := s.find(s.vol, "t")
	s.NotEmpty(first)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.vol.Find(ctx, "other", 10)
	s.ErrorIs(err, context.Canceled)

	// the cancelled query did not replace the position of the last one
	s.Empty(s.find(s.vol, "t"))
}

func (s *JournalVolumeSuite) TestResetQueryStartsOver() {
	s.Require().NoError(s.vol.BuildIndex(s.ctx))

	first := s.find(s.vol, "t")
	s.NotEmpty(first)
	s.Empty(s.find(s.vol, "t"))

	s.vol.ResetQuery()
	s.Equal(first, s.find(s.vol, "t"))
}

func TestWalkVolume(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "docs", "readme.md"))
	mustWrite(t, filepath.Join(root, "docs", "notes.txt"))
	mustWrite(t, filepath.Join(root, "node_modules", "pkg", "index.js"))

	ctx := context.Background()
	idx, err := NewWalkIndexer(ctx, root, root, WalkOptions{
		Traverser: filesystem.Options{
			Rules: filesystem.IgnoreRules{Exclude: []string{"**/node_modules"}},
		},
	}, zerolog.Nop())
	require.NoError(t, err)

	v := New(root, idx, filepath.Join(t.TempDir(), "index"), zerolog.Nop())
	defer v.Close()

	require.NoError(t, v.BuildIndex(ctx))

	items, err := v.Find(ctx, "readme", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, filepath.Join(root, "docs", "readme.md"), items[0].Path)
	assert.Equal(t, filepath.Join(root, "docs"), items[0].Dir)

	items, err = v.Find(ctx, "index.js", 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	// without a watcher updates change nothing
	require.NoError(t, v.UpdateIndex(ctx))
	assert.Zero(t, v.Stats().Dirty)
}

func TestWalkVolumeFollowsWatcher(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "old", "stale.txt"))
	mustWrite(t, filepath.Join(root, "keep.txt"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx, err := NewWalkIndexer(ctx, root, root, WalkOptions{Watch: true}, zerolog.Nop())
	require.NoError(t, err)
	if idx.watcher == nil {
		t.Skip("filesystem watcher unavailable")
	}

	v := New(root, idx, filepath.Join(t.TempDir(), "index"), zerolog.Nop())
	defer v.Close()
	require.NoError(t, v.BuildIndex(ctx))

	require.NoError(t, os.RemoveAll(filepath.Join(root, "old")))
	mustWrite(t, filepath.Join(root, "fresh.txt"))
	require.Eventually(t, func() bool { return idx.watcher.Pending() >= 2 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, v.UpdateIndex(ctx))

	find := func(q string) int {
		items, err := v.Find(ctx, q, 10)
		require.NoError(t, err)
		return len(items)
	}
	assert.Zero(t, find("stale"))
	assert.Equal(t, 1, find("fresh"))
	assert.Equal(t, 1, find("keep"))
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}
