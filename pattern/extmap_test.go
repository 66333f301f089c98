package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtensionMap(t *testing.T) {
	valid := map[string]ExtensionMap{
		"jpeg=png":             {"jpeg": "png"},
		"jpeg=png,mp4=avi":     {"jpeg": "png", "mp4": "avi"},
		"mp3":                  {"*": "mp3"},
		"*=wav":                {"*": "wav"},
		"mp3=mp4,mp3,jpeg=png": {"mp3": "mp4", "*": "mp3", "jpeg": "png"},
		"ogg=MP3":              {"ogg": "MP3"},
	}
	for in, want := range valid {
		t.Run(in, func(t *testing.T) {
			got, err := ParseExtensionMap(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	invalid := []string{"", "mp3,mp3", ",mp3,jpeg=png", "png=", "=png", "mp3=wav,mp3=ogg", "a b=c", "mp3=w.av", "*=wav,ogg"}
	for _, in := range invalid {
		t.Run("invalid "+in, func(t *testing.T) {
			_, err := ParseExtensionMap(in)
			assert.ErrorIs(t, err, ErrInvalidExtensionMap)
		})
	}
}

func TestExtensionMapMatch(t *testing.T) {
	m := ExtensionMap{"ogg": "mp3", "OGG": "wav", "flac": "opus"}

	t.Run("exact key wins", func(t *testing.T) {
		key, ok := m.Match("OGG", false)
		require.True(t, ok)
		assert.Equal(t, "OGG", key)
	})

	t.Run("case-insensitive match", func(t *testing.T) {
		key, ok := m.Match("FLAC", false)
		require.True(t, ok)
		assert.Equal(t, "flac", key)

		key, ok = m.Match("Ogg", false)
		require.True(t, ok)
		assert.Equal(t, "OGG", key, "first key in sorted order")
	})

	t.Run("case-sensitive match", func(t *testing.T) {
		_, ok := m.Match("FLAC", true)
		assert.False(t, ok)

		key, ok := m.Match("flac", true)
		require.True(t, ok)
		assert.Equal(t, "flac", key)
	})

	t.Run("wildcard fallback", func(t *testing.T) {
		withWildcard := ExtensionMap{"ogg": "mp3", "*": "wav"}
		key, ok := withWildcard.Match("aiff", false)
		require.True(t, ok)
		assert.Equal(t, Wildcard, key)

		key, ok = withWildcard.Match("OGG", true)
		require.True(t, ok)
		assert.Equal(t, Wildcard, key)

		_, ok = m.Match("aiff", false)
		assert.False(t, ok)
	})
}

func TestExtensionMapString(t *testing.T) {
	m, err := ParseExtensionMap("mp4=avi,jpeg,flac=mp3")
	require.NoError(t, err)
	assert.Equal(t, "*=jpeg,flac=mp3,mp4=avi", m.String())
}
