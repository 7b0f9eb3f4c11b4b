package corpus

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeSeedFile(t, `[
		{
			"id": "k8s-deployment-healthcheck",
			"document": "Check rollout status of a Kubernetes deployment.",
			"embedding": [0.1, 0.2, 0.3],
			"metadata": {
				"name": "k8s-deployment-healthcheck",
				"platform": "kubernetes",
				"tags": ["deployment", "health"]
			}
		}
	]`)

	items, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	item := items[0]
	if item.ID != "k8s-deployment-healthcheck" || len(item.Embedding) != 3 {
		t.Errorf("item = %+v", item)
	}
	if item.Meta.Platform != "kubernetes" || len(item.Meta.Tags) != 2 {
		t.Errorf("metadata = %+v", item.Meta)
	}
}

func TestLoadFileRejectsBadItems(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", `[{"document":"x","embedding":[0.1]}]`},
		{"missing embedding", `[{"id":"a","document":"x"}]`},
		{"malformed json", `[{"id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSeedFile(t, tt.content)
			if _, err := LoadFile(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
