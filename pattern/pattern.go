// Package pattern turns an output path template plus one input file into a
// final, collision-free output path.
//
// A pattern is a path with optional placeholders:
//
//	{{file}}           file name with its input extension
//	{{stem}}           file name without extension
//	{{in-ext}}         input extension
//	{{out-ext}}        mapped output extension
//	{{tree}}           directory chain below the input directory that was expanded
//	{{parent}}         name of the input file's parent directory
//	{{unique-suffix}}  "" or "_N", whichever first makes the path unique
//
// The last path element always ends up with the output extension.
package pattern

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	File         = "{{file}}"
	Stem         = "{{stem}}"
	InExt        = "{{in-ext}}"
	OutExt       = "{{out-ext}}"
	Tree         = "{{tree}}"
	Parent       = "{{parent}}"
	UniqueSuffix = "{{unique-suffix}}"
)

// DefaultPattern creates a fresh lconvert_output directory and mirrors the
// input tree and file names inside it.
const DefaultPattern = "lconvert_output" + UniqueSuffix + "/" + Tree + "/" + File

var ErrInvalidPattern = errors.New("invalid output pattern")

var placeholders = []string{File, Stem, InExt, OutExt, Tree, Parent, UniqueSuffix}

// Pattern is an immutable output path template.
type Pattern struct {
	raw string
}

// Parse validates raw. Every "{{" must open one of the known placeholders.
func Parse(raw string) (Pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return Pattern{}, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	rest := raw
	for {
		i := strings.Index(rest, "{{")
		if i < 0 {
			break
		}
		rest = rest[i:]
		known := false
		for _, ph := range placeholders {
			if strings.HasPrefix(rest, ph) {
				rest = rest[len(ph):]
				known = true
				break
			}
		}
		if !known {
			end := strings.Index(rest, "}}")
			if end < 0 {
				return Pattern{}, fmt.Errorf("%w: unterminated placeholder in %q", ErrInvalidPattern, raw)
			}
			return Pattern{}, fmt.Errorf("%w: unknown placeholder %s", ErrInvalidPattern, rest[:end+2])
		}
	}
	return Pattern{raw: raw}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) Pattern {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string { return p.raw }

// HasPlaceholders reports whether p contains any recognized placeholder.
func (p Pattern) HasPlaceholders() bool {
	for _, ph := range placeholders {
		if strings.Contains(p.raw, ph) {
			return true
		}
	}
	return false
}

// fields are the per-input substitution values.
type fields struct {
	stem   string
	file   string
	inExt  string
	outExt string
	parent string
	tree   string
}

// expand substitutes placeholders in a fixed order. A pattern without any
// placeholder gets {{tree}}/{{file}} appended unless appendDisabled.
func (p Pattern) expand(f fields, appendDisabled bool) string {
	s := p.raw
	if !appendDisabled && !p.HasPlaceholders() {
		s = filepath.Join(s, Tree, File)
	}
	s = strings.ReplaceAll(s, Stem, f.stem)
	s = strings.ReplaceAll(s, File, f.file)
	s = strings.ReplaceAll(s, InExt, f.inExt)
	s = strings.ReplaceAll(s, OutExt, f.outExt)
	s = strings.ReplaceAll(s, Parent, f.parent)
	s = strings.ReplaceAll(s, Tree, f.tree)
	return s
}

// splitExt splits a file name into stem and extension (without the dot).
// Names without a dot, dot-files like ".profile" and names ending in a dot
// have no extension.
func splitExt(name string) (stem, ext string, ok bool) {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return name, "", false
	}
	return name[:i], name[i+1:], true
}

// setExtension replaces (or adds) the extension of the last path element.
func setExtension(path, ext string) string {
	dir, name := filepath.Split(path)
	if stem, _, ok := splitExt(name); ok {
		name = stem
	} else {
		name = strings.TrimSuffix(name, ".")
	}
	return dir + name + "." + ext
}
