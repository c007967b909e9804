package pipeline

import (
	"fmt"
	"strings"

	"github.com/meridianhq/meridian/internal/pipeline/prompts"
)

// Prompts holds the four role-scoped system prompts, loaded from the
// embedded filesystem.
type Prompts struct {
	Plan     string // plan generation
	Query    string // query-statement generation
	Insights string // result-insight extraction
	Respond  string // channel response formatting
}

// LoadPrompts reads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Plan, err = loadPrompt("PLAN.md"); err != nil {
		return nil, fmt.Errorf("failed to load PLAN: %w", err)
	}
	if p.Query, err = loadPrompt("QUERY.md"); err != nil {
		return nil, fmt.Errorf("failed to load QUERY: %w", err)
	}
	if p.Insights, err = loadPrompt("INSIGHTS.md"); err != nil {
		return nil, fmt.Errorf("failed to load INSIGHTS: %w", err)
	}
	if p.Respond, err = loadPrompt("RESPOND.md"); err != nil {
		return nil, fmt.Errorf("failed to load RESPOND: %w", err)
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
