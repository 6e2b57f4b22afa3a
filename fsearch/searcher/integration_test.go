package searcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/config"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/journal"
	"github.com/ZanzyTHEbar/filesearch/fsearch/volume"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type driveSource struct {
	root string
}

func (s driveSource) Candidates(context.Context) ([]volume.Candidate, error) {
	return []volume.Candidate{{ID: "C:", Root: s.root, Strategy: config.StrategyJournal}}, nil
}

func TestJournalVolumesEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Index.Dir = filepath.Join(dir, "index")
	cfg.Index.Strategy = config.StrategyJournal
	cfg.Index.Watch = false

	jr := journal.NewMemory(7)
	jr.Create(10, filemap.RootRef, "a_file.txt")
	jr.Create(11, filemap.RootRef, "b_file.txt")

	state, err := volume.OpenStateFile(filepath.Join(dir, "journal.toml"))
	require.NoError(t, err)
	reg := volume.NewRegistry(cfg, driveSource{root: dir}, jr.Opener(), state, zerolog.Nop())

	sink := newCollectSink()
	c := New(FromRegistry(reg), sink, Options{BatchSize: 10}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	require.NoError(t, c.Init(ctx))
	require.Len(t, c.Volumes(), 1)
	assert.True(t, c.Volumes()[0].Stats().OnDisk)

	jr.Delete(10)
	jr.Create(12, filemap.RootRef, "c_file.txt")

	require.NoError(t, c.Find(ctx, "file"))
	d := <-sink.ch
	assert.ElementsMatch(t, []string{"b_file.txt", "c_file.txt"}, names(d.Items))
	for _, it := range d.Items {
		assert.Equal(t, `C:\`+it.Name, it.Path)
	}

	require.NoError(t, c.Release(ctx))
	assert.False(t, c.Volumes()[0].Stats().Loaded)
}
