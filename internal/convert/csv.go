package convert

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"icscsv/internal/model"
)

// DefaultFilename is used when the source calendar has no usable name.
const DefaultFilename = "calendar_events.csv"

// ErrHeaderMismatch is returned by ReadCSV when the first row is not the
// column header written by ToCSV.
var ErrHeaderMismatch = errors.New("csv header does not match the event columns")

// Column maps one CSV column to an Event field.
type Column struct {
	Header string
	Get    func(model.Event) string
	Set    func(*model.Event, string)
}

// Columns is the fixed output schema, in order.
var Columns = []Column{
	{"Title", func(e model.Event) string { return e.Summary }, func(e *model.Event, v string) { e.Summary = v }},
	{"Start Date", func(e model.Event) string { return e.DTStart }, func(e *model.Event, v string) { e.DTStart = v }},
	{"End Date", func(e model.Event) string { return e.DTEnd }, func(e *model.Event, v string) { e.DTEnd = v }},
	{"Description", func(e model.Event) string { return e.Description }, func(e *model.Event, v string) { e.Description = v }},
	{"Location", func(e model.Event) string { return e.Location }, func(e *model.Event, v string) { e.Location = v }},
	{"Organizer", func(e model.Event) string { return e.Organizer }, func(e *model.Event, v string) { e.Organizer = v }},
	{"Status", func(e model.Event) string { return e.Status }, func(e *model.Event, v string) { e.Status = v }},
	{"UID", func(e model.Event) string { return e.UID }, func(e *model.Event, v string) { e.UID = v }},
	{"Created", func(e model.Event) string { return e.Created }, func(e *model.Event, v string) { e.Created = v }},
	{"Last Modified", func(e model.Event) string { return e.LastModified }, func(e *model.Event, v string) { e.LastModified = v }},
}

// Headers returns the header row.
func Headers() []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = c.Header
	}
	return out
}

// ToCSV renders events as CSV text: a header row followed by one row per
// event, rows separated by a single "\n" and no trailing newline.
//
// Only fields containing a comma, double quote, LF or CR are quoted; unlike
// encoding/csv, leading spaces are written bare.
func ToCSV(events []model.Event) string {
	var b strings.Builder

	writeRow(&b, Headers())
	row := make([]string, len(Columns))
	for _, ev := range events {
		for i, c := range Columns {
			row[i] = c.Get(ev)
		}
		b.WriteByte('\n')
		writeRow(&b, row)
	}

	return b.String()
}

func writeRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(EscapeField(f))
	}
}

// EscapeField quotes a single CSV field when it needs it.
func EscapeField(field string) string {
	if !strings.ContainsAny(field, ",\"\n\r") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// ReadCSV parses text written by ToCSV back into events.
func ReadCSV(text string) ([]model.Event, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = len(Columns)

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", ErrHeaderMismatch)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range Headers() {
		if header[i] != h {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrHeaderMismatch, i+1, header[i], h)
		}
	}

	events := make([]model.Event, 0)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(events)+1, err)
		}
		var ev model.Event
		for i, c := range Columns {
			c.Set(&ev, rec[i])
		}
		events = append(events, ev)
	}
	return events, nil
}

// WithBOM encodes csvText as UTF-8 with a leading byte-order mark, which
// spreadsheet applications use to pick the right encoding.
func WithBOM(csvText string) ([]byte, error) {
	return unicode.UTF8BOM.NewEncoder().Bytes([]byte(csvText))
}

// Filename derives the CSV file name from the original calendar file name:
// a trailing ".ics" (any case) becomes ".csv", other names get ".csv"
// appended, and an empty name yields DefaultFilename.
func Filename(original string) string {
	if original == "" {
		return DefaultFilename
	}
	if n := len(original) - len(".ics"); n >= 0 && strings.EqualFold(original[n:], ".ics") {
		return original[:n] + ".csv"
	}
	return original + ".csv"
}
