package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Wildcard is the extension map key that applies to any input extension
// without an explicit entry.
const Wildcard = "*"

var ErrInvalidExtensionMap = errors.New("invalid extension map")

var extToken = regexp.MustCompile(`^\w+$`)

// ExtensionMap maps an input extension (without the dot) to the output
// extension it is converted to.
type ExtensionMap map[string]string

// ParseExtensionMap parses a comma-separated list of "in=out" entries. A bare
// "out" entry (or "*=out") is the wildcard; at most one may be given.
//
//	"jpeg=png"            .jpeg -> .png
//	"jpeg=png,mp4=avi"    .jpeg -> .png, .mp4 -> .avi
//	"mp3=ogg,jpeg"        .mp3 -> .ogg, everything else -> .jpeg
func ParseExtensionMap(s string) (ExtensionMap, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidExtensionMap)
	}

	m := make(ExtensionMap)
	for _, entry := range strings.Split(s, ",") {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			key, value = Wildcard, entry
		}
		if key != Wildcard && !extToken.MatchString(key) {
			return nil, fmt.Errorf("%w: bad input extension %q in entry %q", ErrInvalidExtensionMap, key, entry)
		}
		if !extToken.MatchString(value) {
			return nil, fmt.Errorf("%w: bad output extension %q in entry %q", ErrInvalidExtensionMap, value, entry)
		}
		if _, dup := m[key]; dup {
			if key == Wildcard {
				return nil, fmt.Errorf("%w: more than one wildcard entry", ErrInvalidExtensionMap)
			}
			return nil, fmt.Errorf("%w: duplicate input extension %q", ErrInvalidExtensionMap, key)
		}
		m[key] = value
	}
	return m, nil
}

// Match returns the key whose mapping applies to ext. An exact key always
// wins. Without caseSensitive, the first key (in sorted order) equal to ext
// under case folding is used next. The wildcard is the last resort.
func (m ExtensionMap) Match(ext string, caseSensitive bool) (string, bool) {
	if ext != Wildcard {
		if _, ok := m[ext]; ok {
			return ext, true
		}
		if !caseSensitive {
			for _, key := range m.keys() {
				if key != Wildcard && strings.EqualFold(key, ext) {
					return key, true
				}
			}
		}
	}
	if _, ok := m[Wildcard]; ok {
		return Wildcard, true
	}
	return "", false
}

func (m ExtensionMap) keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the map in the same syntax ParseExtensionMap accepts.
func (m ExtensionMap) String() string {
	parts := make([]string, 0, len(m))
	for _, k := range m.keys() {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ",")
}
