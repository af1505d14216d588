package irt

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/quantpsych/irt-platform/internal/errors"
)

// Table is an uploaded response table before validation: the item
// header and the raw cell values exactly as they arrived. Tables are
// persisted between upload and curve requests, hence the JSON tags.
type Table struct {
	Items   []string   `json:"items"`
	Records [][]string `json:"records"`
}

// ReadTable parses CSV input into a raw table. The first row is the
// header. Ragged rows and unparseable CSV are rejected here; cell
// values are validated later by the Validator.
func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.NewSchemaError("malformed CSV: "+err.Error(), nil)
	}
	if len(rows) == 0 {
		return nil, errors.NewSchemaError("empty CSV file", nil)
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	return &Table{Items: header, Records: rows[1:]}, nil
}

// idColumnMarkers are header fragments that identify a leading
// respondent-identifier column rather than an item.
var idColumnMarkers = []string{"id", "student", "person", "subject", "name"}

// StripIDColumn removes a leading respondent-identifier column when the
// first header looks like one. It returns the removed header and
// whether a column was stripped.
func (t *Table) StripIDColumn() (string, bool) {
	if len(t.Items) == 0 {
		return "", false
	}

	first := strings.ToLower(t.Items[0])
	matched := false
	for _, marker := range idColumnMarkers {
		if strings.Contains(first, marker) {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	removed := t.Items[0]
	t.Items = t.Items[1:]
	for i, rec := range t.Records {
		if len(rec) > 0 {
			t.Records[i] = rec[1:]
		}
	}
	return removed, true
}
