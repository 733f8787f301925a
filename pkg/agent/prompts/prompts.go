package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed *.md
var promptsFS embed.FS

// Prompts contains all the agent prompts loaded from embedded files.
type Prompts struct {
	Role         string
	Examples     string
	Finalization string
	Summary      string
	Correction   string
}

// BuildSystemPrompt combines the role, the rendered dataset catalog, and
// the worked examples.
func (p *Prompts) BuildSystemPrompt(catalog string) string {
	sections := []string{p.Role}
	if strings.TrimSpace(catalog) != "" {
		sections = append(sections, catalog)
	}
	sections = append(sections, p.Examples)
	return strings.Join(sections, "\n\n")
}

// Load loads all prompts from the embedded filesystem.
func Load() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Role, err = loadPrompt("ROLE.md"); err != nil {
		return nil, fmt.Errorf("failed to load ROLE: %w", err)
	}
	if p.Examples, err = loadPrompt("EXAMPLES.md"); err != nil {
		return nil, fmt.Errorf("failed to load EXAMPLES: %w", err)
	}
	if p.Finalization, err = loadPrompt("FINALIZATION.md"); err != nil {
		return nil, fmt.Errorf("failed to load FINALIZATION: %w", err)
	}
	if p.Summary, err = loadPrompt("SUMMARY.md"); err != nil {
		return nil, fmt.Errorf("failed to load SUMMARY: %w", err)
	}
	if p.Correction, err = loadPrompt("CORRECTION.md"); err != nil {
		return nil, fmt.Errorf("failed to load CORRECTION: %w", err)
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := promptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
