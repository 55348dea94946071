package render_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/executor"
	"github.com/xraph/reportflow/render"
	"github.com/xraph/reportflow/run"
)

func TestLocalRender(t *testing.T) {
	dir := t.TempDir()
	l := render.NewLocal(dir)

	out, err := l.Render(context.Background(), executor.RenderRequest{
		TenantID:     "acme",
		RunID:        "run_1",
		TemplateCode: "sales",
		Format:       reportflow.FormatPDF,
		Sections:     []executor.SectionResult{{Key: "orders", Rows: []executor.Row{{"n": 1}}}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Storage != run.StorageLocal || out.LocationRef != "acme/run_1/pdf/report.pdf" {
		t.Fatalf("output = %+v", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(out.LocationRef)))
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != out.SizeBytes {
		t.Errorf("size = %d, want %d", out.SizeBytes, len(data))
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != out.Checksum {
		t.Error("checksum mismatch")
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["template"] != "sales" {
		t.Errorf("template = %v", doc["template"])
	}
}

func TestLocalRenderRequiresIdentity(t *testing.T) {
	l := render.NewLocal(t.TempDir())
	if _, err := l.Render(context.Background(), executor.RenderRequest{Format: reportflow.FormatCSV}); err == nil {
		t.Fatal("expected error")
	}
}
