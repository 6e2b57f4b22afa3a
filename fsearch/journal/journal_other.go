//go:build !windows

package journal

import (
	"fmt"
	"runtime"

	"github.com/ZanzyTHEbar/filesearch/fsearch/common"
)

// NewOpener returns an Opener for the platform change journal. Only NTFS on
// Windows exposes one, so here every open fails.
func NewOpener() Opener {
	return OpenerFunc(func(volume string) (Journal, error) {
		return nil, fmt.Errorf("%w: no change journal on %s", common.ErrJournalUnavailable, runtime.GOOS)
	})
}
