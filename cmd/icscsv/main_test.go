package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"icscsv/internal/ics"
)

const calendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Example//CLI//EN\r\nBEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Lunch, with Bob\r\nDTSTART:20240115T120000Z\r\nDTEND:20240115T130000Z\r\nEND:VEVENT\r\nBEGIN:VEVENT\r\nUID:2\r\nSUMMARY:Holiday\r\nDTSTART;VALUE=DATE:20240704\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func writeCalendar(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"icscsv", "--cache-dir", t.TempDir()}, args...))
	return out.String(), err
}

func TestConvertToStdout(t *testing.T) {
	in := writeCalendar(t, "team.ics", calendar)

	out, err := run(t, "convert", "--stdout", in)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", out)
	}
	if lines[1] != `"Lunch, with Bob",2024-01-15 12:00:00,2024-01-15 13:00:00,,,,,1,,` {
		t.Errorf("unexpected first row %q", lines[1])
	}
}

func TestConvertToFile(t *testing.T) {
	in := writeCalendar(t, "Team.ICS", calendar)
	outPath := filepath.Join(t.TempDir(), "out.csv")

	if _, err := run(t, "convert", "-o", outPath, in); err != nil {
		t.Fatalf("convert: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("\xef\xbb\xbfTitle,")) {
		t.Errorf("output should start with BOM and header: %q", data[:min(len(data), 20)])
	}
}

func TestConvertRejectsInput(t *testing.T) {
	if _, err := run(t, "convert", "--stdout", writeCalendar(t, "team.txt", calendar)); !errors.Is(err, ics.ErrNotICS) {
		t.Errorf("wrong extension: %v", err)
	}
	if _, err := run(t, "convert", "--stdout", writeCalendar(t, "empty.ics", "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")); !errors.Is(err, ics.ErrNoEvents) {
		t.Errorf("no events: %v", err)
	}
	if _, err := run(t, "convert"); err == nil {
		t.Error("expected error without input")
	}
}

func TestPreview(t *testing.T) {
	out, err := run(t, "preview", "--rows", "1", writeCalendar(t, "team.ics", calendar))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !strings.Contains(out, "Lunch, with Bob") || strings.Contains(out, "Holiday") {
		t.Errorf("unexpected preview:\n%s", out)
	}
	if !strings.Contains(out, "and 1 more events") {
		t.Errorf("missing remainder line:\n%s", out)
	}
}

func TestInspect(t *testing.T) {
	out, err := run(t, "inspect", writeCalendar(t, "team.ics", calendar))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var got struct {
		ProductID string `json:"prodid"`
		File      string `json:"file"`
		Events    int    `json:"events"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.ProductID != "-//Example//CLI//EN" || got.File != "team.ics" || got.Events != 2 {
		t.Errorf("unexpected inspect output %+v", got)
	}
}
