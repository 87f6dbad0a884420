package participant

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSeedCoversEveryRole(t *testing.T) {
	store := NewMemoryStore(Seed())
	for _, role := range append(Specialists(), Collector, Decision) {
		if _, ok := store.FindByRole(role); !ok {
			t.Fatalf("seed missing role %s", role)
		}
	}
}

func TestCollectorPromptRendersMarker(t *testing.T) {
	store := NewMemoryStore(Seed())
	def, _ := store.FindByRole(Collector)

	prompt := def.Prompt("DONE_TOKEN")
	if !strings.Contains(prompt, "DONE_TOKEN") {
		t.Fatal("expected marker in rendered prompt")
	}
	if strings.Contains(prompt, MarkerPlaceholder) {
		t.Fatal("placeholder left in rendered prompt")
	}
}

func TestLoadFileOverridesSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participants.yaml")
	content := `participants:
  - role: fraud
    name: Fraud Desk
    title: Screening
    system_prompt: Only answer "Risk level: low".
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	defs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile err: %v", err)
	}
	if len(defs) != len(Seed()) {
		t.Fatalf("expected %d definitions, got %d", len(Seed()), len(defs))
	}

	store := NewMemoryStore(defs)
	fraud, _ := store.FindByRole(Fraud)
	if fraud.Name != "Fraud Desk" {
		t.Fatalf("override not applied: %+v", fraud)
	}
}

func TestDecodeRejectsUnknownRoleAndKeys(t *testing.T) {
	if _, err := Decode([]byte("participants:\n  - role: janitor\n    system_prompt: hi\n")); err == nil {
		t.Fatal("expected unknown role error")
	}
	if _, err := Decode([]byte("participants:\n  - role: credit\n    prompt: hi\n")); err == nil {
		t.Fatal("expected unknown key error")
	}
}
