package pattern

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "/work"

func newTestResolver(t *testing.T, fs afero.Fs, raw, extMap string, mod func(*Options)) *Resolver {
	t.Helper()
	m, err := ParseExtensionMap(extMap)
	require.NoError(t, err)
	opts := Options{ExtensionMap: m, Base: base}
	if mod != nil {
		mod(&opts)
	}
	return NewResolver(fs, MustParse(raw), opts)
}

func TestParsePattern(t *testing.T) {
	for _, raw := range []string{DefaultPattern, "out", "out/{{stem}}-{{parent}}.{{in-ext}}"} {
		_, err := Parse(raw)
		assert.NoError(t, err, raw)
	}
	for _, raw := range []string{"", "out/{{name}}", "out/{{stem", "{{ stem }}"} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidPattern, raw)
	}
}

func TestResolve_PlaceholderSubstitution(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestResolver(t, fs, "out/{{stem}}/{{out-ext}}/{{file}}", "mp3=wav", nil)

	a, err := r.Resolve("/music/a.mp3", "")
	require.NoError(t, err)
	b, err := r.Resolve("/music/b.mp3", "")
	require.NoError(t, err)

	assert.Equal(t, "/work/out/a/wav/a.wav", a)
	assert.Equal(t, "/work/out/b/wav/b.wav", b)
}

func TestResolve_AllPlaceholders(t *testing.T) {
	r := newTestResolver(t, afero.NewMemMapFs(), "/dst/{{parent}}/{{tree}}/{{stem}}-{{in-ext}}", "flac=mp3", nil)

	out, err := r.Resolve("/src/album/disc1/track.flac", "album/disc1")
	require.NoError(t, err)
	assert.Equal(t, "/dst/disc1/album/disc1/track-flac.mp3", out)
}

func TestResolve_UniqueSuffixAcrossBatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work/test", 0o755))
	r := newTestResolver(t, fs, "test{{unique-suffix}}/{{out-ext}}{{unique-suffix}}", "*=wav", nil)

	var outs []string
	for _, in := range []string{"/in/a.mp3", "/in/b.ogg", "/in/c.flac"} {
		out, err := r.Resolve(in, "")
		require.NoError(t, err)
		outs = append(outs, out)
	}

	assert.Equal(t, []string{
		"/work/test_1/wav.wav",
		"/work/test_1/wav_1.wav",
		"/work/test_1/wav_2.wav",
	}, outs)
	assert.Equal(t, outs, r.Assigned())
}

func TestResolve_UniqueSuffixSkipsExistingFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/out/song.wav", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/out/song_1.wav", []byte("x"), 0o644))
	r := newTestResolver(t, fs, "out/{{stem}}{{unique-suffix}}", "mp3=wav", nil)

	out, err := r.Resolve("/in/song.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, "/work/out/song_2.wav", out)
}

func TestResolve_UniquenessProperty(t *testing.T) {
	fs := afero.NewMemMapFs()
	existing := []string{"/work/batch", "/work/batch_1/clip.mp4", "/work/batch_1/clip_3.mp4"}
	for _, p := range existing {
		require.NoError(t, afero.WriteFile(fs, p+"/.keep", nil, 0o644))
	}
	r := newTestResolver(t, fs, "batch{{unique-suffix}}/clip{{unique-suffix}}", "*=mp4", nil)

	seen := map[string]bool{}
	for i := 0; i < 25; i++ {
		out, err := r.Resolve(fmt.Sprintf("/in/%02d.mkv", i), "")
		require.NoError(t, err)
		assert.False(t, seen[out], "duplicate output %s", out)
		seen[out] = true

		exists, err := afero.Exists(fs, out)
		require.NoError(t, err)
		assert.False(t, exists, "output %s collides with an existing entry", out)
		assert.Equal(t, ".mp4", filepath.Ext(out))
	}
}

func TestResolve_DefaultPatternMirrorsTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work/lconvert_output", 0o755))
	r := newTestResolver(t, fs, DefaultPattern, "flac=opus", nil)

	top, err := r.Resolve("/in/one.flac", "")
	require.NoError(t, err)
	nested, err := r.Resolve("/in/albums/x/two.flac", "albums/x")
	require.NoError(t, err)

	assert.Equal(t, "/work/lconvert_output_1/one.opus", top)
	assert.Equal(t, "/work/lconvert_output_1/albums/x/two.opus", nested)
}

func TestResolve_AppendTreeAndFile(t *testing.T) {
	t.Run("appended without placeholders", func(t *testing.T) {
		r := newTestResolver(t, afero.NewMemMapFs(), "outdir", "mp3=ogg", nil)
		out, err := r.Resolve("/in/sub/a.mp3", "sub")
		require.NoError(t, err)
		assert.Equal(t, "/work/outdir/sub/a.ogg", out)
	})

	t.Run("append disabled", func(t *testing.T) {
		r := newTestResolver(t, afero.NewMemMapFs(), "outdir", "mp3=ogg", func(o *Options) { o.DisableAppend = true })
		out, err := r.Resolve("/in/sub/a.mp3", "sub")
		require.NoError(t, err)
		assert.Equal(t, "/work/outdir.ogg", out)
	})
}

func TestResolve_ForcesOutputExtension(t *testing.T) {
	patterns := []string{
		"out/{{file}}",
		"out/{{stem}}.{{in-ext}}",
		"out/{{stem}}.txt",
		"out/{{stem}}.",
		"out/.{{stem}}",
		"out/{{out-ext}}",
	}
	for _, raw := range patterns {
		t.Run(raw, func(t *testing.T) {
			r := newTestResolver(t, afero.NewMemMapFs(), raw, "mp3=wav", nil)
			out, err := r.Resolve("/in/a.mp3", "")
			require.NoError(t, err)
			assert.Equal(t, ".wav", filepath.Ext(out))
		})
	}
}

func TestResolve_CaseSensitivity(t *testing.T) {
	t.Run("insensitive", func(t *testing.T) {
		r := newTestResolver(t, afero.NewMemMapFs(), "/out/{{file}}", "ogg=MP3", nil)
		out, err := r.Resolve("/in/input.OGG", "")
		require.NoError(t, err)
		assert.Equal(t, "/out/input.MP3", out)
	})

	t.Run("sensitive", func(t *testing.T) {
		r := newTestResolver(t, afero.NewMemMapFs(), "/out/{{file}}", "ogg=mp3", func(o *Options) { o.CaseSensitive = true })
		_, err := r.Resolve("/in/input.OGG", "")
		assert.ErrorIs(t, err, ErrUnmapped)

		r = newTestResolver(t, afero.NewMemMapFs(), "/out/{{file}}", "OGG=mp3", func(o *Options) { o.CaseSensitive = true })
		out, err := r.Resolve("/in/input.OGG", "")
		require.NoError(t, err)
		assert.Equal(t, "/out/input.mp3", out)
	})
}

func TestResolve_PerInputErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/taken.wav", []byte("x"), 0o644))

	r := newTestResolver(t, fs, "/out/{{stem}}", "mp3=wav,ogg=wav", nil)

	for _, in := range []string{"/in/noext", "/in/.hidden", "/in/trailing."} {
		_, err := r.Resolve(in, "")
		assert.ErrorIs(t, err, ErrNoExtension, in)
	}

	_, err := r.Resolve("/in/a.flac", "")
	assert.ErrorIs(t, err, ErrUnmapped)

	_, err = r.Resolve("/in/taken.mp3", "")
	assert.ErrorIs(t, err, ErrOutputExists)

	_, err = r.Resolve("/in/same.mp3", "")
	require.NoError(t, err)
	_, err = r.Resolve("/in/same.ogg", "")
	assert.ErrorIs(t, err, ErrDuplicateOutput)
	assert.Len(t, r.Assigned(), 1)
}

func TestResolve_OverrideOnlyAffectsPlainTerminal(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/taken.wav", []byte("x"), 0o644))
	override := func(o *Options) { o.AllowOverride = true }

	r := newTestResolver(t, fs, "/out/{{stem}}", "mp3=wav", override)
	out, err := r.Resolve("/in/taken.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, "/out/taken.wav", out)

	r = newTestResolver(t, fs, "/out/{{stem}}{{unique-suffix}}", "mp3=wav", override)
	out, err = r.Resolve("/in/taken.mp3", "")
	require.NoError(t, err)
	assert.Equal(t, "/out/taken_1.wav", out)
}

func TestResolve_AdversarialSuffixTerminates(t *testing.T) {
	r := newTestResolver(t, afero.NewMemMapFs(), "/out/{{stem}}", "mp3=wav", nil)
	_, err := r.Resolve("/in/{{unique{{unique-suffix}}-suffix}}.mp3", "")
	assert.ErrorIs(t, err, ErrUnresolvedSuffix)
	assert.Empty(t, r.Assigned())
}

func TestCommonPath(t *testing.T) {
	assert.Equal(t, "", CommonPath(nil))
	assert.Equal(t, "/out/a/x.wav", CommonPath([]string{"/out/a/x.wav"}))
	assert.Equal(t, "/out", CommonPath([]string{"/out/a/x.wav", "/out/b/y.wav", "/out/a/z.wav"}))
	assert.Equal(t, "/", CommonPath([]string{"/one/x.wav", "/two/y.wav"}))
	assert.Equal(t, "/out/ab", CommonPath([]string{"/out/ab/x", "/out/ab/y"}))
	assert.Equal(t, "/out", CommonPath([]string{"/out/ab/x", "/out/abc/y"}))
}
