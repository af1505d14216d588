package irt

import "strconv"

// Response is a single scored cell of a response matrix.
type Response int8

const (
	Missing   Response = -1
	Incorrect Response = 0
	Correct   Response = 1
)

// MarshalJSON renders Missing as null so the engine receives the same
// missing-value encoding the matrix was parsed from.
func (r Response) MarshalJSON() ([]byte, error) {
	if r == Missing {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(r))), nil
}

// Matrix is a cleaned, scored response table: one row per respondent,
// one column per item. The column count is fixed for the life of a
// dataset; rows are only ever removed, never reshaped.
type Matrix struct {
	Items []string
	Rows  [][]Response
}

// ItemCount returns the number of item columns.
func (m *Matrix) ItemCount() int { return len(m.Items) }

// RespondentCount returns the number of retained rows.
func (m *Matrix) RespondentCount() int { return len(m.Rows) }

// ItemIndex returns the column position for an item id.
func (m *Matrix) ItemIndex(id string) (int, bool) {
	for i, item := range m.Items {
		if item == id {
			return i, true
		}
	}
	return 0, false
}
