package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain <text>", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain <text>", out)

	out, err = RenderTemplate(`{{.Name}} ({{ default "unknown" .Model | upper }}) <md>`, map[string]any{"Name": "Chat"})
	require.NoError(t, err)
	assert.Equal(t, "Chat (UNKNOWN) <md>", out)

	out, err = RenderTemplate(`{{ title .Provider }}`, map[string]any{"Provider": "oLLAMA"})
	require.NoError(t, err)
	assert.Equal(t, "Ollama", out)

	_, err = RenderTemplate("{{ .Broken", nil)
	assert.Error(t, err)
}
