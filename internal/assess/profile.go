package assess

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel       = "sonar-pro"
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.2
	DefaultTimeout     = 90 * time.Second
)

// Profile describes how the assessment model is prompted.
type Profile struct {
	Name         string        `yaml:"name"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"systemPrompt"`
	MaxTokens    int           `yaml:"maxTokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

const defaultSystemPrompt = `You are a fact-checker. Verify claims briefly and to the point.

STRICTLY follow this answer format (use HTML tags for formatting):

<b>CONCLUSION:</b> [1-2 sentences] The claim is true / false / partly true

<b>REASONING:</b> [2-3 sentences] The key facts

<b>SOURCES:</b>
[URL 1]
[URL 2]
[URL 3]

Rules:
- Always write the headings in capitals: "CONCLUSION:", "REASONING:", "SOURCES:"
- Use <b></b> for the headings
- Do NOT use * or ** (only <b></b>)
- Be brief and specific
- Always cite 2-3 verified sources
- If there is not enough data, say so plainly
- Answer in the user's language`

// DefaultProfile returns the built-in fact-checking profile.
func DefaultProfile() Profile {
	return Profile{
		Name:         "fact-checker",
		Model:        DefaultModel,
		SystemPrompt: defaultSystemPrompt,
		MaxTokens:    DefaultMaxTokens,
		Temperature:  DefaultTemperature,
		Timeout:      DefaultTimeout,
	}
}

// LoadProfile reads a YAML profile. Fields left out of the file keep the
// values of DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML profile on top of DefaultProfile.
func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate reports every problem with the profile at once.
func (p Profile) Validate() error {
	var errs []string
	if strings.TrimSpace(p.Model) == "" {
		errs = append(errs, "model is required")
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		errs = append(errs, "systemPrompt is required")
	}
	if p.MaxTokens < 0 {
		errs = append(errs, "maxTokens must not be negative")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	if p.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid profile: %s", strings.Join(errs, "; "))
	}
	return nil
}
