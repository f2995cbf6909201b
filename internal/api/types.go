// Package api holds the JSON request/response types shared by the HTTP
// server and its clients.
package api

import (
	"github.com/commissionflow/docintake/internal/extract"
	"github.com/commissionflow/docintake/internal/objectstore"
)

// UploadRequest asks the server for an upload location for a new statement
// file.
type UploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	FileHash    string `json:"fileHash"`
	PageCount   int    `json:"pageCount,omitempty"`
}

// UploadResponse carries the created document and its presigned upload
// target. Duplicate is set when a document with the same file hash already
// exists; no new record is created and Upload is empty in that case.
type UploadResponse struct {
	DocumentID string                   `json:"documentId"`
	Duplicate  bool                     `json:"duplicate,omitempty"`
	Upload     objectstore.UploadTarget `json:"upload,omitempty"`
}

// ConfirmRequest submits the reviewed statement rows for hand-off.
type ConfirmRequest struct {
	Rows []extract.Row `json:"rows"`
}

// ConfirmResponse reports what was submitted downstream.
type ConfirmResponse struct {
	DocumentID      string  `json:"documentId"`
	RowCount        int     `json:"rowCount"`
	TotalCommission float64 `json:"totalCommission"`
}

// CorrectionRequest sends a document back for correction after review.
type CorrectionRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
