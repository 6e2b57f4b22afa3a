package filemap

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Wildcard matches any run of characters in a query.
const Wildcard = '*'

const (
	digitBit    = 26
	asciiBit    = 27
	nonASCIIBit = 28
)

// Fold is the case and composition folding applied to names and queries
// before filtering and matching. Names are decomposed so a base letter keeps
// its filter bit whether or not an accent follows it.
func Fold(s string) string {
	return norm.NFD.String(strings.ToLower(s))
}

// ComputeFilter returns the 29 bit character class mask of s.
// Bits 0-25 mark a-z, 26 digits, 27 any other ASCII and 28 anything else.
// The wildcard contributes nothing.
func ComputeFilter(s string) uint32 {
	return filterFolded(Fold(s))
}

func filterFolded(s string) uint32 {
	var f uint32
	for _, c := range s {
		switch {
		case c == Wildcard:
		case c >= 'a' && c <= 'z':
			f |= 1 << uint32(c-'a')
		case c >= '0' && c <= '9':
			f |= 1 << digitBit
		case c < utf8.RuneSelf:
			f |= 1 << asciiBit
		default:
			f |= 1 << nonASCIIBit
		}
	}
	return f
}

// MayMatch reports whether a record with filter recordFilter can contain a query
// whose filter is queryFilter. False positives are possible, false negatives are not.
func MayMatch(queryFilter, recordFilter uint32) bool {
	return queryFilter&recordFilter == queryFilter
}
