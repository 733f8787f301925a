package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	p, err := Load()
	require.NoError(t, err)

	assert.NotEmpty(t, p.Role)
	assert.NotEmpty(t, p.Examples)
	assert.NotEmpty(t, p.Finalization)
	assert.NotEmpty(t, p.Summary)
	assert.NotEmpty(t, p.Correction)

	// Embedded prompts arrive trimmed.
	assert.Equal(t, strings.TrimSpace(p.Role), p.Role)
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	p, err := Load()
	require.NoError(t, err)

	catalog := "Dataset catalog:\n- deseq2_results: differential expression"
	system := p.BuildSystemPrompt(catalog)

	assert.Contains(t, system, p.Role)
	assert.Contains(t, system, catalog)
	assert.Contains(t, system, p.Examples)

	// Catalog is optional.
	withoutCatalog := p.BuildSystemPrompt("")
	assert.NotContains(t, withoutCatalog, "Dataset catalog:")
	assert.Contains(t, withoutCatalog, p.Role)
}
