// Package document defines the document entity shared by the store, the
// HTTP API and the status poller, together with the status taxonomy that
// drives polling cadence.
package document

import "time"

// Status is the lifecycle state of a document. The string values are the
// wire-level contract shared with the extraction pipeline and the workflow
// automation webhooks; they must not be changed.
type Status string

const (
	StatusUploading               Status = "uploading"
	StatusUploaded                Status = "uploaded"
	StatusProcessing              Status = "processing"
	StatusReviewPending           Status = "review_pending"
	StatusProcessed               Status = "processed"
	StatusSalesforceUploadPending Status = "salesforce_upload_pending"
	StatusCorrectionPending       Status = "correction_pending"
	StatusUploadedToSalesforce    Status = "uploaded_to_salesforce"
	StatusCompleted               Status = "completed"
	StatusCompletedWithErrors     Status = "completed_with_errors"
	StatusFailed                  Status = "failed"
)

// statusClass partitions every status into exactly one polling class.
type statusClass int

const (
	classProcessing statusClass = iota // external work in flight, may change soon
	classStable                        // no change expected without an external trigger
)

// classes is the total mapping from status to polling class. Every Status
// constant must appear here; Known relies on it.
var classes = map[Status]statusClass{
	StatusUploading:               classProcessing,
	StatusUploaded:                classProcessing,
	StatusProcessing:              classProcessing,
	StatusSalesforceUploadPending: classProcessing,
	StatusReviewPending:           classStable,
	StatusProcessed:               classStable,
	StatusCorrectionPending:       classStable,
	StatusUploadedToSalesforce:    classStable,
	StatusCompleted:               classStable,
	StatusCompletedWithErrors:     classStable,
	StatusFailed:                  classStable,
}

// Known reports whether s is one of the defined status values.
func (s Status) Known() bool {
	_, ok := classes[s]
	return ok
}

// Active reports whether s indicates ongoing external work. Unknown status
// strings count as active so a stale client keeps polling fast rather than
// miss a transition introduced by a newer server.
func (s Status) Active() bool {
	class, ok := classes[s]
	if !ok {
		return true
	}
	return class == classProcessing
}

// Stable reports whether s is a settled state for polling purposes.
// Single-document polling stops once a stable status is observed.
func (s Status) Stable() bool {
	return !s.Active()
}

// Document is the metadata record for one intake file. The store owns it;
// the poller only ever reads it.
type Document struct {
	ID                  string    `json:"id" firestore:"-"`
	FileName            string    `json:"fileName" firestore:"fileName,omitempty"`
	FileHash            string    `json:"fileHash" firestore:"fileHash,omitempty"`
	ContentType         string    `json:"contentType" firestore:"contentType,omitempty"`
	SizeBytes           int64     `json:"sizeBytes" firestore:"sizeBytes,omitempty"`
	PageCount           int       `json:"pageCount,omitempty" firestore:"pageCount,omitempty"`
	StorageKey          string    `json:"storageKey" firestore:"storageKey,omitempty"`
	Status              Status    `json:"status" firestore:"status,omitempty"`
	ErrorDetails        string    `json:"errorDetails,omitempty" firestore:"errorDetails,omitempty"`
	OCRJobID            string    `json:"ocrJobId,omitempty" firestore:"ocrJobId,omitempty"`
	WorkflowExecutionID string    `json:"workflowExecutionId,omitempty" firestore:"workflowExecutionId,omitempty"`
	CSVKey              string    `json:"csvKey,omitempty" firestore:"csvKey,omitempty"`
	JSONKey             string    `json:"jsonKey,omitempty" firestore:"jsonKey,omitempty"`
	TableCount          int       `json:"tableCount,omitempty" firestore:"tableCount,omitempty"`
	RecordsCreated      int       `json:"recordsCreated,omitempty" firestore:"recordsCreated,omitempty"`
	RecordsFailed       int       `json:"recordsFailed,omitempty" firestore:"recordsFailed,omitempty"`
	CreatedAt           time.Time `json:"createdAt" firestore:"createdAt,omitempty"`
	UpdatedAt           time.Time `json:"updatedAt" firestore:"updatedAt,omitempty"`
}

// AnyActive reports whether any document in docs is in an active state.
func AnyActive(docs []Document) bool {
	for _, d := range docs {
		if d.Status.Active() {
			return true
		}
	}
	return false
}
