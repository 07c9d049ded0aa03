package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadKindManifestFromPath(t *testing.T) {
	t.Run("valid manifest", func(t *testing.T) {
		tmpDir := t.TempDir()
		manifestPath := filepath.Join(tmpDir, "resources.yaml")

		content := `
kinds:
  - name: widgets
    description: "Test widgets"
    filterable:
      - name
`
		if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test manifest: %v", err)
		}

		manifest, err := LoadKindManifestFromPath(manifestPath)
		if err != nil {
			t.Fatalf("LoadKindManifestFromPath() error = %v", err)
		}
		if len(manifest.Kinds) != 1 {
			t.Fatalf("expected 1 kind, got %d", len(manifest.Kinds))
		}
		if manifest.Kinds[0].Name != "widgets" {
			t.Errorf("name = %q, want %q", manifest.Kinds[0].Name, "widgets")
		}
		if manifest.Kinds[0].Description != "Test widgets" {
			t.Errorf("description = %q, want %q", manifest.Kinds[0].Description, "Test widgets")
		}
	})

	t.Run("missing name", func(t *testing.T) {
		tmpDir := t.TempDir()
		manifestPath := filepath.Join(tmpDir, "resources.yaml")

		content := `
kinds:
  - description: "Unnamed kind"
`
		if err := os.WriteFile(manifestPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test manifest: %v", err)
		}

		_, err := LoadKindManifestFromPath(manifestPath)
		if err == nil {
			t.Error("expected error for kind entry missing a name")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadKindManifestFromPath("/nonexistent/path/resources.yaml")
		if err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		tmpDir := t.TempDir()
		manifestPath := filepath.Join(tmpDir, "resources.yaml")

		if err := os.WriteFile(manifestPath, []byte("kinds: [unterminated"), 0644); err != nil {
			t.Fatalf("failed to write test manifest: %v", err)
		}

		_, err := LoadKindManifestFromPath(manifestPath)
		if err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestLoadKindManifestOrDefault(t *testing.T) {
	manifest := LoadKindManifestOrDefault()
	if len(manifest.Kinds) == 0 {
		t.Fatal("expected a non-empty default manifest")
	}
}

func TestKindManifestDescriptions(t *testing.T) {
	manifest := DefaultKindManifest()
	descriptions := manifest.Descriptions()
	if descriptions["users"] == "" {
		t.Error("expected a description for the users kind")
	}
	if descriptions["posts"] == "" {
		t.Error("expected a description for the posts kind")
	}
}
