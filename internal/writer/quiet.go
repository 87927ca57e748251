package writer

import (
	"context"

	"github.com/tablevc/tablevc/internal/diff"
)

// quietWriter produces no output at all; callers use the exit code.
type quietWriter struct{}

func (quietWriter) writeHeader(ctx context.Context, rd *diff.RepoDiff) error {
	return nil
}

func (quietWriter) writeDatasetDiff(ctx context.Context, dsPath string, dd *diff.DatasetDiff, features []*diff.Delta) error {
	return nil
}

func (quietWriter) writeFooter(ctx context.Context) error {
	return nil
}
