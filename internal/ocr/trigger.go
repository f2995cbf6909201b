// Package ocr starts extraction jobs for uploaded statements and defines
// the completion-callback contract the pipeline posts back. The pipeline
// itself (Textract behind a lambda, or a Cloud Workflows orchestration) is
// a black box; this package only knows how to kick it and what comes back.
package ocr

import (
	"context"

	"github.com/commissionflow/docintake/internal/document"
)

// Trigger starts the extraction pipeline for one uploaded document. It
// returns the pipeline's job identifier and, where applicable, the
// workflow execution ID for traceability.
type Trigger interface {
	Start(ctx context.Context, doc document.Document) (jobID, executionID string, err error)
}
