package volume

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/filesearch/fsearch"
)

var idReplacer = strings.NewReplacer("/", "_", `\`, "_", ":", "_")

// SanitizeID turns a volume id such as "C:" or "/home/u" into a file name stem.
func SanitizeID(id string) string {
	s := strings.TrimRight(id, `/\:`)
	s = strings.TrimLeft(s, `/\`)
	if s == "" {
		return "root"
	}
	return idReplacer.Replace(s)
}

// IndexPath returns where the index of volume id is persisted.
func IndexPath(dir, id string) string {
	return filepath.Join(dir, SanitizeID(id)+internal.IndexFileExt)
}

// RemoveIndexes deletes every persisted index in dir, including temp files
// left by interrupted saves, and returns how many files were removed.
func RemoveIndexes(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read index directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(name, internal.IndexFileExt) && !strings.Contains(name, internal.IndexFileExt+".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
