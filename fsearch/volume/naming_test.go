package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"C:", "C"},
		{`D:\`, "D"},
		{"/home/u", "home_u"},
		{"/Applications", "Applications"},
		{"/", "root"},
		{"", "root"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeID(tt.id))
		})
	}
}

func TestIndexPath(t *testing.T) {
	assert.Equal(t, filepath.Join("idx", "C.fd"), IndexPath("idx", "C:"))
}

func TestRemoveIndexes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"C.fd", "home_u.fd", "C.fd.tmp123", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	n, err := RemoveIndexes(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "notes.txt", left[0].Name())

	n, err = RemoveIndexes(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.Zero(t, n)
}
