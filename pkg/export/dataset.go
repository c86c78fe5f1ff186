package export

import "errors"

// ErrNoColumns is returned when a dataset declares no headers.
var ErrNoColumns = errors.New("dataset has no columns")

// Dataset is a titled table. Rows are keyed by header; missing keys render
// as empty cells.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// Renderer encodes a Dataset into a downloadable file.
type Renderer interface {
	Render(data Dataset) ([]byte, error)
	ContentType() string
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return ErrNoColumns
	}
	return nil
}

// record returns row's cells in header order after applying cell.
func (d Dataset) record(row map[string]string, cell func(string) string) []string {
	out := make([]string, len(d.Headers))
	for i, h := range d.Headers {
		out[i] = cell(row[h])
	}
	return out
}
