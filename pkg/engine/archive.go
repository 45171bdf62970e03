package engine

import (
	"bytes"
	"context"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/report"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/storage"
)

// archiveResult copies the result to the operator's blob store. Failures are
// logged; the stored result stays authoritative.
func (e *Engine) archiveResult(ctx context.Context, result model.ScanResult) {
	if e.archive == nil {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf, result); err != nil {
		e.logger.Warn("failed to encode result for archive", "scan_id", result.ScanID, "error", err)
		return
	}
	key := storage.ResultKey(result.ScanID, report.FormatJSON)
	if err := e.archive.Put(context.WithoutCancel(ctx), key, buf.Bytes()); err != nil {
		e.logger.Warn("failed to archive result", "scan_id", result.ScanID, "key", key, "error", err)
		return
	}
	e.logger.Info("result archived", "scan_id", result.ScanID, "key", key)
}
