// Package records normalizes CDX index server responses into a uniform
// record shape.
//
// Two wire shapes are understood:
//
//   - pywb (Common Crawl) output=json: newline-delimited JSON objects,
//     one capture per line.
//   - Wayback Machine output=json: a JSON array whose first element is the
//     list of field names, followed by rows of values in the same order.
//
// Both decode to []Record. A 404 response ("no captures") decodes to an
// empty slice.
package records

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrDecode is returned when a response body matches neither wire shape.
var ErrDecode = errors.New("cannot decode cdx response")

// Record is one capture: field name to value (url, timestamp, status,
// digest, mime, length, ...). The field set is defined by the server.
type Record map[string]string

// Get returns the value of field, or "" if absent.
func (r Record) Get(field string) string {
	return r[field]
}

// Decode turns a raw response into records.
func Decode(statusCode int, body []byte) ([]Record, error) {
	if statusCode == http.StatusNotFound {
		return []Record{}, nil
	}

	text := bytes.TrimSpace(body)
	if len(text) == 0 {
		return []Record{}, nil
	}

	switch text[0] {
	case '{':
		return decodeLines(text)
	case '[':
		return decodeTable(text)
	default:
		return nil, decodeError(text)
	}
}

// decodeLines handles newline-delimited JSON objects.
func decodeLines(text []byte) ([]Record, error) {
	var out []Record
	for _, line := range bytes.Split(text, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return nil, decodeError(line)
		}
		obj := gjson.ParseBytes(line)
		if !obj.IsObject() {
			return nil, decodeError(line)
		}

		rec := make(Record)
		obj.ForEach(func(key, value gjson.Result) bool {
			rec[key.String()] = scalar(value)
			return true
		})
		out = append(out, rec)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// decodeTable handles the header-row-then-value-rows array shape.
func decodeTable(text []byte) ([]Record, error) {
	if !gjson.ValidBytes(text) {
		return nil, decodeError(text)
	}

	rows := gjson.ParseBytes(text).Array()
	if len(rows) == 0 {
		return []Record{}, nil
	}

	header := rows[0]
	if !header.IsArray() {
		return nil, decodeError(text)
	}
	var fields []string
	for _, f := range header.Array() {
		fields = append(fields, f.String())
	}

	out := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if !row.IsArray() {
			return nil, fmt.Errorf("%w: row %d is not a list", ErrDecode, i+1)
		}
		values := row.Array()
		if len(values) != len(fields) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d fields",
				ErrDecode, i+1, len(values), len(fields))
		}
		rec := make(Record, len(fields))
		for j, f := range fields {
			rec[f] = scalar(values[j])
		}
		out = append(out, rec)
	}
	return out, nil
}

// ParseNumPages reads a showNumPages=true response. pywb answers with a
// JSON object carrying "blocks"; the Wayback Machine answers with a bare
// integer.
func ParseNumPages(body []byte) (int, error) {
	text := bytes.TrimSpace(body)
	if !gjson.ValidBytes(text) {
		return 0, decodeError(text)
	}

	v := gjson.ParseBytes(text)
	switch {
	case v.IsObject():
		return int(v.Get("blocks").Int()), nil
	case v.Type == gjson.Number:
		return int(v.Int()), nil
	default:
		return 0, fmt.Errorf("%w: unexpected showNumPages value %q", ErrDecode, truncate(text))
	}
}

// scalar renders a JSON value as the record's string form. Strings are
// unquoted, everything else keeps its JSON text.
func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.String()
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}

func decodeError(text []byte) error {
	return fmt.Errorf("%w: first bytes are %q", ErrDecode, truncate(text))
}

func truncate(text []byte) string {
	if len(text) > 50 {
		return string(text[:50])
	}
	return string(text)
}
