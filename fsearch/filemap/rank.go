package filemap

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	bundleBonus     = 25
	executableBonus = 10
	lengthHorizon   = 40
)

var launchable = []struct {
	ext   string
	bonus int
}{
	{".app", bundleBonus},
	{".lnk", bundleBonus},
	{".exe", executableBonus},
}

// ComputeRank scores a file name. Launchable extensions get a bonus and
// names shorter than 40 characters gain one point per missing character.
func ComputeRank(name string) int8 {
	score := 0
	lower := strings.ToLower(name)
	for _, l := range launchable {
		if strings.HasSuffix(lower, l.ext) {
			score += l.bonus
			break
		}
	}

	if n := utf8.RuneCountInString(name); n < lengthHorizon {
		score += lengthHorizon - n
	}

	switch {
	case score > math.MaxInt8:
		return math.MaxInt8
	case score < math.MinInt8:
		return math.MinInt8
	}
	return int8(score)
}
