// Package extract models the tabular data produced by the extraction
// pipeline and the small amount of arithmetic the review flow needs.
package extract

// Row is one extracted table row, keyed by header text.
type Row map[string]string

// Table is one table recognized in a statement document.
type Table struct {
	Index   int      `json:"index"`
	Page    int      `json:"page,omitempty"`
	Headers []string `json:"headers"`
	Rows    []Row    `json:"rows"`
}

// Extraction is the full output for one document, as written to the object
// store by the pipeline.
type Extraction struct {
	DocumentID string  `json:"documentId,omitempty"`
	JobID      string  `json:"jobId,omitempty"`
	Tables     []Table `json:"tables"`
}

// AllRows flattens every table's rows in document order.
func (e Extraction) AllRows() []Row {
	var rows []Row
	for _, t := range e.Tables {
		rows = append(rows, t.Rows...)
	}
	return rows
}
