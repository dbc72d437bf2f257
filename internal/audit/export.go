package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/opentrusty/trustcore/internal/observability/logger"
)

// ExportDocument is the compliance hand-off format.
type ExportDocument struct {
	ExportTime time.Time `json:"export_time"`
	EventCount int       `json:"event_count"`
	Events     []Event   `json:"events"`
}

// BuildExport collects at most ExportLimit events in [from, to]. Zero times
// leave that side open.
func (t *Trail) BuildExport(ctx context.Context, from, to time.Time) (*ExportDocument, error) {
	events, err := t.Query(ctx, Filter{From: from, To: to, Limit: ExportLimit})
	if err != nil {
		return nil, err
	}
	return &ExportDocument{
		ExportTime: t.now().UTC(),
		EventCount: len(events),
		Events:     events,
	}, nil
}

// WriteExport encodes the export document to w.
func (t *Trail) WriteExport(ctx context.Context, w io.Writer, from, to time.Time) (int, error) {
	doc, err := t.BuildExport(ctx, from, to)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("audit: encode export: %w", err)
	}
	return doc.EventCount, nil
}

// Export writes the export document to path with owner-only permissions
// and returns the number of exported events.
func (t *Trail) Export(ctx context.Context, path string, from, to time.Time) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return 0, fmt.Errorf("audit: create export dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("audit: open export file: %w", err)
	}

	n, err := t.WriteExport(ctx, f, from, to)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("audit: close export file: %w", cerr)
	}
	if err != nil {
		return 0, err
	}

	t.logger.InfoContext(ctx, "audit log exported", logger.Path(path), logger.RowsAffected(int64(n)))
	return n, nil
}
