package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/filesearch/fsearch/config"
	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/journal"
	"github.com/ZanzyTHEbar/filesearch/fsearch/ports"
	"github.com/ZanzyTHEbar/filesearch/fsearch/volume"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func testEnv(t *testing.T, root string) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Index.Dir = filepath.Join(dir, "index")
	cfg.Index.StateFile = filepath.Join(dir, "journal.toml")
	cfg.Index.Roots = []string{root}
	cfg.Index.ShallowRoots = nil
	cfg.Index.Strategy = config.StrategyWalk
	cfg.Index.Watch = false
	cfg.Searcher.BatchSize = 2

	state, err := volume.OpenStateFile(cfg.Index.StateFile)
	require.NoError(t, err)
	src := volume.StaticSource{Roots: cfg.Index.Roots}
	return &env{
		cfg:      cfg,
		logger:   zerolog.Nop(),
		state:    state,
		registry: volume.NewRegistry(cfg, src, journal.NewOpener(), state, zerolog.Nop()),
		ui:       newConsole(os.Stderr),
	}
}

func TestLineShell(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"report-a.txt", "report-b.txt", "report-c.txt", "notes.md"} {
		writeFile(t, filepath.Join(root, "docs", name))
	}
	e := testEnv(t, root)

	var out bytes.Buffer
	in := strings.NewReader("report\n\nnotes\n")
	require.NoError(t, runLineShell(context.Background(), e, in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	for _, l := range lines[:3] {
		assert.Contains(t, l, "report-")
	}
	assert.Contains(t, lines[3], filepath.Join(root, "docs", "notes.md"))

	// the index was persisted for the next run
	_, err := os.Stat(volume.IndexPath(e.cfg.Index.Dir, root))
	assert.NoError(t, err)
}

func TestResultPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newResultPrinter(&out, false)
	p.deliver(ports.Delivery{
		Items:    []filemap.Item{{Path: "/a/x", Rank: 30}, {Path: "/a/y", Rank: 10, Alias: "Rechner"}},
		NewItems: []filemap.Item{{Path: "/a/y", Rank: 10, Alias: "Rechner"}},
	})

	assert.Equal(t, "  10  /a/y  (Rechner)\n", out.String())
	assert.Equal(t, 1, p.total)

	out.Reset()
	p = newResultPrinter(&out, true)
	x := filemap.Item{Name: "x", Path: "/a/x", Rank: 30}
	p.deliver(ports.Delivery{Items: []filemap.Item{x}, NewItems: []filemap.Item{x}})
	assert.JSONEq(t, `{"name":"x","path":"/a/x","rank":30}`, strings.TrimSpace(out.String()))
}

func TestCleanCommand(t *testing.T) {
	dir := t.TempDir()
	indexDir := filepath.Join(dir, "index")
	writeFile(t, filepath.Join(indexDir, "C.fd"))
	writeFile(t, filepath.Join(indexDir, "home_u.fd"))

	cfgFile := filepath.Join(dir, "config.yaml")
	content := "index:\n  dir: " + indexDir + "\n  stateFile: " + filepath.Join(dir, "journal.toml") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))

	require.NoError(t, newApp().Run([]string{"fsearch", "--config", cfgFile, "clean", "--state"}))

	left, err := os.ReadDir(indexDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFindRequiresQuery(t *testing.T) {
	err := newApp().Run([]string{"fsearch", "find"})
	assert.Error(t, err)
}
