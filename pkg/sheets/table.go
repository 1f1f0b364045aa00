package sheets

import (
	"fmt"
	"strings"
)

// ValueRange is the values payload shared by the proxy and the direct API.
type ValueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension"`
	Values         [][]any `json:"values"`
}

// Table is a parsed sheet range: the first row is the header.
type Table struct {
	Range  string     `json:"range"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// RowCount returns the number of data rows (header excluded).
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Records maps each row onto the header columns. Missing trailing cells
// are empty strings.
func (t *Table) Records() []map[string]string {
	records := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Header))
		for i, col := range t.Header {
			if i < len(row) {
				rec[col] = row[i]
			} else {
				rec[col] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}

// ParseValueRange converts a ValueRange into a Table. An empty range or a
// header-only range yields a Table with zero rows, not an error.
func ParseValueRange(vr ValueRange) *Table {
	t := &Table{Range: vr.Range, Rows: [][]string{}}
	if len(vr.Values) == 0 {
		t.Header = []string{}
		return t
	}

	t.Header = cells(vr.Values[0])
	for _, row := range vr.Values[1:] {
		t.Rows = append(t.Rows, cells(row))
	}
	return t
}

func cells(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		switch c := v.(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = strings.TrimSpace(c)
		default:
			out[i] = fmt.Sprint(c)
		}
	}
	return out
}
