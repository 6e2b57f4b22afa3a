package volume

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.toml")

	s, err := OpenStateFile(path)
	require.NoError(t, err)
	assert.Empty(t, s.IDs())

	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Update("C:", func(st *VolumeState) {
		st.Strategy = "journal"
		st.SetJournal(0xfedcba9876543210)
		st.USN = 4242
		st.Records = 7
		st.IndexedAt = when
	}))
	require.NoError(t, s.Update("/home/u", func(st *VolumeState) {
		st.Strategy = "walk"
	}))

	reopened, err := OpenStateFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/u", "C:"}, reopened.IDs())

	st, ok := reopened.Get("C:")
	require.True(t, ok)
	id, ok := st.Journal()
	require.True(t, ok)
	assert.Equal(t, uint64(0xfedcba9876543210), id)
	assert.Equal(t, int64(4242), st.USN)
	assert.Equal(t, 7, st.Records)
	assert.True(t, when.Equal(st.IndexedAt))

	walk, _ := reopened.Get("/home/u")
	_, ok = walk.Journal()
	assert.False(t, ok)

	require.NoError(t, reopened.Delete("C:"))
	again, err := OpenStateFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/u"}, again.IDs())
}

func TestStateFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.toml")
	require.NoError(t, os.WriteFile(path, []byte("[volumes\nbroken = "), 0o644))

	s, err := OpenStateFile(path)
	require.ErrorIs(t, err, common.ErrDataFormat)
	require.NotNil(t, s)
	assert.Empty(t, s.IDs())

	// the broken file is replaced on the next save
	require.NoError(t, s.Update("C:", func(st *VolumeState) { st.Records = 1 }))
	_, err = OpenStateFile(path)
	assert.NoError(t, err)
}
