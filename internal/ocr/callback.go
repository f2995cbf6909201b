package ocr

import (
	"fmt"

	"github.com/commissionflow/docintake/internal/document"
)

// Callback status values posted by the extraction pipeline.
const (
	CallbackProcessed = "processed"
	CallbackFailed    = "failed"
)

// Callback is the completion payload the pipeline posts to
// /api/webhooks/ocr once a job finishes. DocumentID is preferred for
// correlation; pipelines that only know the object key set OriginalKey and
// the server resolves the document from it.
type Callback struct {
	DocumentID   string `json:"documentId,omitempty"`
	JobID        string `json:"jobId"`
	OriginalKey  string `json:"originalS3Key,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CSVKey       string `json:"csvS3Key,omitempty"`
	CSVURL       string `json:"csvUrl,omitempty"`
	JSONKey      string `json:"jsonS3Key,omitempty"`
	JSONURL      string `json:"jsonUrl,omitempty"`
	TableCount   int    `json:"tableCount,omitempty"`
}

// DocumentStatus maps the callback outcome onto the document lifecycle: a
// processed statement goes to review, a failed one is terminal until the
// user intervenes.
func (c Callback) DocumentStatus() (document.Status, error) {
	switch c.Status {
	case CallbackProcessed:
		return document.StatusReviewPending, nil
	case CallbackFailed:
		return document.StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown extraction callback status %q", c.Status)
	}
}
