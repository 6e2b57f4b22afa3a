package filemap

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var bundleNameLine = regexp.MustCompile(`^\s*"?(CFBundleDisplayName|CFBundleName)"?\s*=\s*"((?:[^"\\]|\\.)*)"\s*;`)

// BundleAliases reads the localized names of macOS application bundles from
// Contents/Resources/*.lproj/InfoPlist.strings. Paths that are not bundles
// have no aliases.
type BundleAliases struct {
	// MaxLocales caps how many localizations are read per bundle. Zero means no cap.
	MaxLocales int
}

// Aliases implements AliasResolver.
func (b BundleAliases) Aliases(path string) []string {
	if !strings.EqualFold(filepath.Ext(path), ".app") {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(path, "Contents", "Resources", "*.lproj", "InfoPlist.strings"))
	if err != nil || len(files) == 0 {
		return nil
	}
	sort.Strings(files)
	if b.MaxLocales > 0 && len(files) > b.MaxLocales {
		files = files[:b.MaxLocales]
	}

	seen := make(map[string]struct{})
	var out []string
	for _, f := range files {
		for _, name := range readBundleNames(f) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// readBundleNames parses a strings file. Such files are UTF-16 with a BOM or
// plain UTF-8, so the BOM decides the decoding.
func readBundleNames(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	dec := xunicode.BOMOverride(xunicode.UTF8.NewDecoder())
	sc := bufio.NewScanner(transform.NewReader(f, dec))

	var names []string
	for sc.Scan() {
		m := bundleNameLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		if name := unescapeStrings(m[2]); name != "" {
			names = append(names, name)
		}
	}
	return names
}

var stringsUnescaper = strings.NewReplacer(`\"`, `"`, `\\`, `\`, `\n`, " ")

func unescapeStrings(s string) string {
	return strings.TrimSpace(stringsUnescaper.Replace(s))
}
