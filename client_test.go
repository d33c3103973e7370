package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeJSString(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", `"hello"`},
		{`say "hi"`, `"say \"hi\""`},
		{"line1\nline2", `"line1\nline2"`},
		{`back\slash`, `"back\\slash"`},
		{"it's", `"it\'s"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeJSString(tt.input))
	}
}

func TestEnsureUserDataDir(t *testing.T) {
	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "chrome-data")
		require.NoError(t, ensureUserDataDir(dir))
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("empty path is accepted", func(t *testing.T) {
		assert.NoError(t, ensureUserDataDir(""))
	})

	t.Run("rejects a file at the path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		assert.Error(t, ensureUserDataDir(path))
	})
}
