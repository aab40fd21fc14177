package assess

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseProfile_OverridesDefaults(t *testing.T) {
	p, err := ParseProfile([]byte(`
name: strict
model: sonar
temperature: 0
timeout: 30s
`))
	if err != nil {
		t.Fatalf("ParseProfile: %v", err)
	}
	if p.Name != "strict" || p.Model != "sonar" || p.Temperature != 0 {
		t.Fatalf("unexpected profile %+v", p)
	}
	if p.Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", p.Timeout)
	}
	if p.SystemPrompt != defaultSystemPrompt || p.MaxTokens != DefaultMaxTokens {
		t.Fatal("unset fields should keep their defaults")
	}
}

func TestParseProfile_Invalid(t *testing.T) {
	_, err := ParseProfile([]byte("model: \"\"\ntemperature: 5\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "model is required") || !strings.Contains(err.Error(), "temperature") {
		t.Fatalf("all problems should be reported: %v", err)
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("systemPrompt: Answer with one word.\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.SystemPrompt != "Answer with one word." {
		t.Fatalf("unexpected prompt %q", p.SystemPrompt)
	}
}

func TestLoadProfile_Missing(t *testing.T) {
	if _, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultProfile_HTMLFormat(t *testing.T) {
	p := DefaultProfile()
	for _, want := range []string{"<b>CONCLUSION:</b>", "<b>REASONING:</b>", "<b>SOURCES:</b>"} {
		if !strings.Contains(p.SystemPrompt, want) {
			t.Fatalf("default prompt missing %s", want)
		}
	}
}
