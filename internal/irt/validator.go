package irt

import (
	"strconv"
	"strings"

	"github.com/quantpsych/irt-platform/internal/errors"
)

// MinRespondents is the smallest cleaned matrix the engine will accept.
const MinRespondents = 10

// maxReportedCells caps how many offending cell values a schema error
// carries back to the caller.
const maxReportedCells = 10

// Summary describes a cleaned dataset.
type Summary struct {
	Respondents         int     `json:"n_students"`
	Items               int     `json:"n_items"`
	OriginalRespondents int     `json:"original_students"`
	RemovedRows         int     `json:"removed_rows"`
	ResponseRate        float64 `json:"response_rate"`
}

// Validator checks an uploaded response table and produces the cleaned
// matrix used for estimation. It never mutates its input.
type Validator struct {
	minRespondents int
}

// NewValidator creates a validator with the standard minimum sample.
func NewValidator() *Validator {
	return &Validator{minRespondents: MinRespondents}
}

// Validate parses and cleans a raw table. Rows with no correct or no
// incorrect answers carry no information for a logistic fit and are
// dropped; whatever survives must still reach the minimum sample size.
func (v *Validator) Validate(table *Table) (*Matrix, Summary, error) {
	if table == nil || len(table.Items) == 0 {
		return nil, Summary{}, errors.NewSchemaError("response table has no item columns", nil)
	}

	itemCount := len(table.Items)
	var offending []string

	parsed := make([][]Response, 0, len(table.Records))
	for _, record := range table.Records {
		if len(record) != itemCount {
			return nil, Summary{}, errors.NewSchemaError("response table rows have inconsistent lengths", nil)
		}

		row := make([]Response, itemCount)
		for j, cell := range record {
			value, ok := parseCell(cell)
			if !ok {
				if len(offending) < maxReportedCells {
					offending = append(offending, cell)
				}
				continue
			}
			row[j] = value
		}
		parsed = append(parsed, row)
	}

	if len(offending) > 0 {
		return nil, Summary{}, errors.NewSchemaError("response values must be 0, 1 or missing", offending)
	}

	// Keep rows with at least one correct and one incorrect answer.
	kept := make([][]Response, 0, len(parsed))
	for _, row := range parsed {
		sum := 0
		for _, cell := range row {
			if cell == Correct {
				sum++
			}
		}
		if sum > 0 && sum < itemCount {
			kept = append(kept, row)
		}
	}

	if len(kept) < v.minRespondents {
		return nil, Summary{}, errors.NewInsufficientDataError(len(kept), v.minRespondents)
	}

	matrix := &Matrix{Items: append([]string(nil), table.Items...), Rows: kept}
	summary := Summary{
		Respondents:         len(kept),
		Items:               itemCount,
		OriginalRespondents: len(table.Records),
		RemovedRows:         len(table.Records) - len(kept),
		ResponseRate:        responseRate(matrix),
	}
	return matrix, summary, nil
}

// parseCell maps a raw cell value onto a scored response. Blank cells
// and the usual missing-value spellings count as missing; numeric forms
// of 0 and 1 are accepted so spreadsheet exports round-trip.
func parseCell(cell string) (Response, bool) {
	s := strings.TrimSpace(cell)
	switch s {
	case "":
		return Missing, true
	case "0":
		return Incorrect, true
	case "1":
		return Correct, true
	}

	switch strings.ToLower(s) {
	case "na", "n/a", "nan", "null":
		return Missing, true
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f == 0 {
			return Incorrect, true
		}
		if f == 1 {
			return Correct, true
		}
	}

	return Missing, false
}

// responseRate is the mean of per-item proportions correct over
// non-missing cells, rounded to 4 decimals.
func responseRate(m *Matrix) float64 {
	total := 0.0
	counted := 0

	for j := 0; j < m.ItemCount(); j++ {
		correct, answered := 0, 0
		for _, row := range m.Rows {
			switch row[j] {
			case Correct:
				correct++
				answered++
			case Incorrect:
				answered++
			}
		}
		if answered > 0 {
			total += float64(correct) / float64(answered)
			counted++
		}
	}

	if counted == 0 {
		return 0
	}
	return Round4(total / float64(counted))
}
