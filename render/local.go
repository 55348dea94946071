// Package render provides the local artifact writer used by the daemon.
// It writes the section results of every requested format as a JSON
// snapshot under a base directory; document generation is left to a
// dedicated renderer supplied by the host.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xraph/reportflow/executor"
	"github.com/xraph/reportflow/run"
)

var _ executor.Renderer = (*Local)(nil)

// Local writes artifacts to {dir}/{tenant}/{run}/{format}/report.{ext}.
type Local struct {
	dir string
}

// NewLocal returns a Local writer rooted at dir.
func NewLocal(dir string) *Local { return &Local{dir: dir} }

type snapshot struct {
	Run         string                   `json:"run"`
	Template    string                   `json:"template"`
	Name        string                   `json:"name"`
	Format      string                   `json:"format"`
	From        *time.Time               `json:"from,omitempty"`
	To          *time.Time               `json:"to,omitempty"`
	Label       string                   `json:"label,omitempty"`
	Locale      string                   `json:"locale,omitempty"`
	Currency    string                   `json:"currency,omitempty"`
	Timezone    string                   `json:"timezone,omitempty"`
	Branding    bool                     `json:"branding"`
	Sections    []executor.SectionResult `json:"sections"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// Render writes the snapshot for req and returns its location, size and
// sha256 checksum.
func (l *Local) Render(ctx context.Context, req executor.RenderRequest) (*run.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.TenantID == "" || req.RunID == "" {
		return nil, fmt.Errorf("render: tenant and run are required")
	}

	data, err := json.MarshalIndent(snapshot{
		Run:         req.RunID,
		Template:    req.TemplateCode,
		Name:        req.TemplateName,
		Format:      string(req.Format),
		From:        req.Period.From,
		To:          req.Period.To,
		Label:       req.Period.Label,
		Locale:      req.Locale,
		Currency:    req.Currency,
		Timezone:    req.Timezone,
		Branding:    req.IncludeBranding,
		Sections:    req.Sections,
		GeneratedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: encode: %w", err)
	}

	format := strings.ToLower(string(req.Format))
	rel := filepath.Join(req.TenantID, req.RunID, format, "report."+format)
	path := filepath.Join(l.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("render: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return nil, fmt.Errorf("render: write: %w", err)
	}

	sum := sha256.Sum256(data)
	return &run.Output{
		Format:      req.Format,
		Storage:     run.StorageLocal,
		LocationRef: filepath.ToSlash(rel),
		SizeBytes:   int64(len(data)),
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}
