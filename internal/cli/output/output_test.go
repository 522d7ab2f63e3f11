package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", false, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{ModeText, false, ModeText},
	}
	for _, tt := range tests {
		r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
		assert.Equal(t, tt.want, r.EffectiveMode(), "mode=%q tty=%v", tt.mode, tt.isTTY)
	}
}

func TestNewRenderer_BufferIsNotATerminal(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{}, &bytes.Buffer{}, ModeAuto)
	assert.False(t, r.IsTTY())
}

func TestHeader(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeMarkdown)
	r.Header(2, "Plan")
	assert.Equal(t, "## Plan\n\n", out.String())

	out.Reset()
	r = NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeText)
	r.Header(1, "Plan")
	assert.Equal(t, "Plan\n", out.String())
}

func TestTable(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeMarkdown)
	r.Table([]string{"Product", "Size"}, [][]string{{"/data1/foo", "3 B"}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "| Product | Size |", lines[0])
	assert.Contains(t, lines[2], "/data1/foo")

	out.Reset()
	r = NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeText)
	r.Table([]string{"Product"}, [][]string{{"/x"}})
	assert.Contains(t, out.String(), "┌")
	assert.Contains(t, out.String(), "/x")
}

func TestNonTTYHasNoANSI(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModeText)
	r.Success("done")
	r.StatusLine("failed", "/x")
	r.Warning("careful")
	assert.NotContains(t, out.String()+errOut.String(), "\x1b[")
	assert.Contains(t, out.String(), "failed    /x")
	assert.Contains(t, errOut.String(), "careful")
}

func TestJSON(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeJSON)
	require.NoError(t, r.JSON(RunOutput{Status: "completed", Targets: []string{"/a"}}))
	assert.Contains(t, out.String(), `"status": "completed"`)
	assert.NotContains(t, out.String(), "run_id")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "# T", FormatHeader(0, "T"))
	assert.Equal(t, "- **Key:** v", FormatKeyValue("Key", "v"))
	assert.Equal(t, "```txt\nhi\n```", FormatCodeBlock("txt", "hi\n"))
}
