package transformer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFieldMappingOverrides_MergesAliases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	contents := "broker:\n  - canonical: cpuPercent\n    aliases: [\"broker.cpu.pct\"]\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write overrides file: %v", err)
	}

	before := len(brokerFields)
	defer func() {
		// restore the package-level table so other tests in this package
		// are not affected by this test's mutation.
		for i := range brokerFields {
			if brokerFields[i].Canonical == "cpuPercent" {
				brokerFields[i].Aliases = brokerFields[i].Aliases[:len(brokerFields[i].Aliases)-1]
			}
		}
	}()

	if err := LoadFieldMappingOverrides(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(brokerFields) != before {
		t.Fatalf("expected table row count unchanged, got %d want %d", len(brokerFields), before)
	}

	found := false
	for _, row := range brokerFields {
		if row.Canonical != "cpuPercent" {
			continue
		}
		for _, alias := range row.Aliases {
			if alias == "broker.cpu.pct" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected merged alias broker.cpu.pct on cpuPercent")
	}
}

func TestLoadFieldMappingOverrides_MissingFileErrors(t *testing.T) {
	if err := LoadFieldMappingOverrides("/nonexistent/overrides.yaml"); err == nil {
		t.Error("expected an error for a missing overrides file")
	}
}
