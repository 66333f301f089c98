package pattern

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"
)

// Per-input errors. They reject one input file, never the whole batch.
var (
	ErrNoExtension      = errors.New("file has no usable extension")
	ErrUnmapped         = errors.New("extension is not mapped")
	ErrDuplicateOutput  = errors.New("output path already assigned to another input")
	ErrOutputExists     = errors.New("output file already exists")
	ErrUnresolvedSuffix = errors.New("unique-suffix placeholder could not be resolved")
)

// Options configures a Resolver.
type Options struct {
	ExtensionMap  ExtensionMap
	CaseSensitive bool
	AllowOverride bool
	// DisableAppend keeps a placeholder-free pattern as is instead of
	// appending {{tree}}/{{file}}.
	DisableAppend bool
	// Base anchors relative patterns. Defaults to the filesystem root.
	Base string
}

// Resolver assigns output paths for one batch. It remembers every path it
// handed out so later inputs never collide with earlier ones. Not safe for
// concurrent use.
type Resolver struct {
	fs      afero.Fs
	pattern Pattern
	opts    Options

	assigned [][]string       // components of every output handed out so far
	owners   map[string]string // output path -> input path
}

// NewResolver creates a resolver that checks for existing entries on fs.
func NewResolver(fs afero.Fs, p Pattern, opts Options) *Resolver {
	if opts.Base == "" {
		opts.Base = string(filepath.Separator)
	}
	return &Resolver{
		fs:      fs,
		pattern: p,
		opts:    opts,
		owners:  make(map[string]string),
	}
}

// Resolve returns the absolute output path for input. tree is the directory
// chain accumulated while expanding input directories, empty for inputs
// given directly.
//
// ErrUnmapped means the input should be skipped silently; every other error
// rejects just this input.
func (r *Resolver) Resolve(input, tree string) (string, error) {
	if !filepath.IsAbs(input) {
		input = filepath.Join(r.opts.Base, input)
	}
	name := filepath.Base(input)
	stem, ext, ok := splitExt(name)
	if !ok || !utf8.ValidString(ext) {
		return "", fmt.Errorf("%w: '%s'", ErrNoExtension, input)
	}

	key, ok := r.opts.ExtensionMap.Match(ext, r.opts.CaseSensitive)
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrUnmapped, input)
	}
	outExt := r.opts.ExtensionMap[key]

	parent := filepath.Base(filepath.Dir(input))
	if parent == string(filepath.Separator) || parent == "." {
		parent = ""
	}

	out := r.pattern.expand(fields{
		stem:   stem,
		file:   name,
		inExt:  ext,
		outExt: outExt,
		parent: parent,
		tree:   tree,
	}, r.opts.DisableAppend)
	if !filepath.IsAbs(out) {
		out = filepath.Join(r.opts.Base, out)
	}
	out = setExtension(filepath.Clean(out), outExt)

	uniqueTerminal := strings.Contains(filepath.Base(out), UniqueSuffix)
	if strings.Contains(out, UniqueSuffix) {
		var err error
		if out, err = r.resolveUnique(out); err != nil {
			return "", err
		}
	}
	if !uniqueTerminal {
		if owner, taken := r.owners[out]; taken {
			return "", fmt.Errorf("%w: '%s' (already used by '%s')", ErrDuplicateOutput, out, owner)
		}
		if !r.opts.AllowOverride {
			exists, err := afero.Exists(r.fs, out)
			if err != nil {
				return "", fmt.Errorf("could not check '%s': %w", out, err)
			}
			if exists {
				return "", fmt.Errorf("%w: '%s'", ErrOutputExists, out)
			}
		}
	}

	r.assigned = append(r.assigned, splitPath(out))
	r.owners[out] = input
	return out, nil
}

// Assigned returns the outputs handed out so far, in order.
func (r *Resolver) Assigned() []string {
	out := make([]string, len(r.assigned))
	for i, comps := range r.assigned {
		out[i] = joinPath(comps)
	}
	return out
}

// resolveUnique replaces every {{unique-suffix}} in path. The path is cut
// after each component; the first unsettled cut holding the token gets the
// shortest suffix that does not collide, then the scan restarts since the
// fix changes what later cuts are compared against. Each cut is settled at
// most once, so the loop ends after len(components) rounds.
func (r *Resolver) resolveUnique(path string) (string, error) {
	comps := splitPath(path)
	settled := make([]bool, len(comps))

	for {
		k := -1
		for i, c := range comps {
			if !settled[i] && strings.Contains(c, UniqueSuffix) {
				k = i
				break
			}
		}
		if k < 0 {
			break
		}

		terminal := k == len(comps)-1
		template := comps[k]
		for n := 0; ; n++ {
			suffix := ""
			if n > 0 {
				suffix = "_" + strconv.Itoa(n)
			}
			candidate := strings.ReplaceAll(template, UniqueSuffix, suffix)
			prefix := joinPath(append(comps[:k:k], candidate))

			collides, err := r.collides(prefix, k, terminal)
			if err != nil {
				return "", err
			}
			if !collides {
				comps[k] = candidate
				break
			}
		}
		settled[k] = true
	}

	out := joinPath(comps)
	if strings.Contains(out, UniqueSuffix) {
		return "", fmt.Errorf("%w: '%s'", ErrUnresolvedSuffix, out)
	}
	return out, nil
}

// collides reports whether the concrete prefix of cut index is taken. A
// directory cut only collides with the filesystem; the terminal cut also
// collides with outputs already assigned in this batch.
func (r *Resolver) collides(prefix string, index int, terminal bool) (bool, error) {
	exists, err := afero.Exists(r.fs, prefix)
	if err != nil {
		return false, fmt.Errorf("could not check '%s': %w", prefix, err)
	}
	if exists || !terminal {
		return exists, nil
	}
	for _, other := range r.assigned {
		if len(other) > index && joinPath(other[:index+1]) == prefix {
			return true, nil
		}
	}
	return false, nil
}

// splitPath breaks an absolute path into its root followed by one element
// per component: "/a/b" -> ["/", "a", "b"].
func splitPath(path string) []string {
	vol := filepath.VolumeName(path)
	rest := path[len(vol):]
	var comps []string
	if strings.HasPrefix(rest, string(filepath.Separator)) {
		comps = append(comps, vol+string(filepath.Separator))
	} else if vol != "" {
		comps = append(comps, vol)
	}
	for _, c := range strings.Split(rest, string(filepath.Separator)) {
		if c != "" {
			comps = append(comps, c)
		}
	}
	return comps
}

func joinPath(comps []string) string {
	return filepath.Join(comps...)
}

// CommonPath returns the longest component-wise prefix shared by all paths,
// or "" when there is none.
func CommonPath(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	common := splitPath(filepath.Clean(paths[0]))
	for _, p := range paths[1:] {
		comps := splitPath(filepath.Clean(p))
		n := 0
		for n < len(common) && n < len(comps) && common[n] == comps[n] {
			n++
		}
		common = common[:n]
	}
	if len(common) == 0 {
		return ""
	}
	return joinPath(common)
}
