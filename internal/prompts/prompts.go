// Package prompts holds the prompt templates sent to the model.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

// Set holds the prompt texts used by the analysis pipeline
type Set struct {
	PageSummary   string `yaml:"page_summary"`
	FinalAnalysis string `yaml:"final_analysis"`
	Repair        string `yaml:"repair"`

	final  *template.Template
	repair *template.Template
}

// Default returns the embedded prompt set
func Default() (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(defaultYAML, &set); err != nil {
		return nil, fmt.Errorf("parsing embedded prompts: %w", err)
	}
	return &set, set.compile()
}

// Load returns the embedded prompts overlaid with the keys present in path.
// An empty path returns the defaults.
func Load(path string) (*Set, error) {
	set, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}

	var override Set
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing prompts file %s: %w", path, err)
	}

	if strings.TrimSpace(override.PageSummary) != "" {
		set.PageSummary = override.PageSummary
	}
	if strings.TrimSpace(override.FinalAnalysis) != "" {
		set.FinalAnalysis = override.FinalAnalysis
	}
	if strings.TrimSpace(override.Repair) != "" {
		set.Repair = override.Repair
	}

	return set, set.compile()
}

func (s *Set) compile() error {
	var err error
	if s.final, err = template.New("final_analysis").Option("missingkey=error").Parse(s.FinalAnalysis); err != nil {
		return fmt.Errorf("compiling final_analysis prompt: %w", err)
	}
	if s.repair, err = template.New("repair").Option("missingkey=error").Parse(s.Repair); err != nil {
		return fmt.Errorf("compiling repair prompt: %w", err)
	}
	return nil
}

// RenderFinal fills the consolidation prompt with the output format instructions
func (s *Set) RenderFinal(formatInstructions string) (string, error) {
	var b strings.Builder
	err := s.final.Execute(&b, struct{ FormatInstructions string }{formatInstructions})
	if err != nil {
		return "", fmt.Errorf("rendering final_analysis prompt: %w", err)
	}
	return b.String(), nil
}

// RenderRepair builds the re-ask prompt for an output that failed to parse
func (s *Set) RenderRepair(output, formatInstructions string) (string, error) {
	var b strings.Builder
	err := s.repair.Execute(&b, struct{ Output, FormatInstructions string }{output, formatInstructions})
	if err != nil {
		return "", fmt.Errorf("rendering repair prompt: %w", err)
	}
	return b.String(), nil
}
