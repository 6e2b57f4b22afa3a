//go:build windows

package volume

import (
	"github.com/ZanzyTHEbar/filesearch/fsearch/config"

	"golang.org/x/sys/windows"
)

// platformVolumes lists drive letters formatted as NTFS.
func platformVolumes() ([]Candidate, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		letter := string(rune('A'+i)) + ":"
		root := letter + `\`
		if fileSystemName(root) != "NTFS" {
			continue
		}
		out = append(out, Candidate{ID: letter, Root: root, Strategy: config.StrategyJournal})
	}
	return out, nil
}

func fileSystemName(root string) string {
	p, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return ""
	}
	var name [windows.MAX_PATH + 1]uint16
	err = windows.GetVolumeInformation(p, nil, 0, nil, nil, nil, &name[0], uint32(len(name)))
	if err != nil {
		return ""
	}
	return windows.UTF16ToString(name[:])
}
