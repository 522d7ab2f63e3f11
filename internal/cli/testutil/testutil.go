// Package testutil holds helpers shared by the CLI tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guitargeek/geeksw/internal/cli/output"
)

// SetupTestProject writes content to geeksw.yaml in a fresh temporary
// directory and returns the directory.
func SetupTestProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "geeksw.yaml"), []byte(content), 0o644))
	return dir
}

// TestRenderer is a Renderer writing into buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a renderer for mode that believes it is (or is
// not) attached to a terminal.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	var out, errOut bytes.Buffer
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(&out, &errOut, isTTY, mode),
		Out:      &out,
		ErrOut:   &errOut,
	}
}

// Output returns everything written to stdout.
func (tr *TestRenderer) Output() string { return tr.Out.String() }

// ErrorOutput returns everything written to stderr.
func (tr *TestRenderer) ErrorOutput() string { return tr.ErrOut.String() }

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI fails the test when s holds terminal escape sequences.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	assert.False(t, ansiEscape.MatchString(s), "unexpected ANSI escapes in %q", s)
}

// AssertValidMarkdown checks fences are balanced, headers have text and
// every row of a table has as many cells as its header.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()
	assert.Zero(t, strings.Count(md, "```")%2, "unbalanced code fences")

	cells := -1
	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			assert.NotEmpty(t, strings.TrimLeft(trimmed, "# "), "empty header at line %d", i+1)
		}
		if !strings.HasPrefix(trimmed, "|") {
			cells = -1
			continue
		}
		n := strings.Count(trimmed, "|") - strings.Count(trimmed, `\|`)
		if cells < 0 {
			cells = n
			continue
		}
		assert.Equal(t, cells, n, "table row at line %d has a different width: %q", i+1, line)
	}
}
