package ics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	appLog "icscsv/internal/log"
	"icscsv/internal/model"
)

var (
	// ErrNotICS is returned for inputs whose name does not end in .ics.
	ErrNotICS = errors.New("please select a valid ICS file")
	// ErrEmptyBody is returned when an input has no content at all.
	ErrEmptyBody = errors.New("empty ICS body")
	// ErrNoEvents marks a calendar that parsed but held no VEVENT. Parse
	// itself never returns it; callers that need at least one event do.
	ErrNoEvents = errors.New("no events found in the ICS file")
)

// CheckFilename rejects names that do not carry the .ics extension
// (case-insensitive).
func CheckFilename(name string) error {
	if !strings.HasSuffix(strings.ToLower(name), ".ics") {
		return fmt.Errorf("%w: %q", ErrNotICS, name)
	}
	return nil
}

// DecodeText turns raw file bytes into text. UTF-8 is assumed; a leading
// UTF-8 BOM is dropped and UTF-16 content announced by a BOM is transcoded.
// Invalid UTF-8 becomes U+FFFD instead of failing the conversion.
func DecodeText(body []byte) string {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, body)
	if err != nil {
		return string(body)
	}
	return string(out)
}

// ReadFile loads a local .ics file.
func ReadFile(name string) ([]byte, error) {
	if err := CheckFilename(name); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyBody)
	}
	return body, nil
}

// Input is an acquired calendar document.
type Input struct {
	// Name is the base file name, used to derive the output file name.
	Name      string
	Body      []byte
	FromCache bool
}

// Open acquires input, which is either a local path or an http(s) URL. URLs
// go through f (and its cache); f may be nil when only local paths are used.
func Open(ctx context.Context, f *Fetcher, input string) (Input, error) {
	if isURL(input) {
		if f == nil {
			return Input{}, errors.New("no fetcher configured for URL input")
		}
		res, err := f.FetchOne(ctx, Source{ID: input, URL: input})
		if err != nil {
			return Input{}, err
		}
		if len(res.Body) == 0 {
			return Input{}, fmt.Errorf("%s: %w", redactURL(input), ErrEmptyBody)
		}
		return Input{Name: urlBaseName(input), Body: res.Body, FromCache: res.FromCache}, nil
	}

	body, err := ReadFile(input)
	if err != nil {
		return Input{}, err
	}
	return Input{Name: filepath.Base(input), Body: body}, nil
}

// ParseSource decodes and parses a fetched payload, logging the outcome
// against src. Like Parse it never fails; an empty result is reported by
// the event count.
func ParseSource(src Source, body []byte) []model.Event {
	events := Parse(DecodeText(body))
	if len(events) == 0 {
		appLog.Warn("ics parse found no events", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return events
	}
	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// urlBaseName returns the last path segment of a feed URL, falling back to
// an empty name (and so the default output name) for bare hosts.
func urlBaseName(u string) string {
	u, _, _ = strings.Cut(u, "?")
	u, _, _ = strings.Cut(u, "#")
	i := strings.Index(u, "://")
	rest := u[i+3:]
	_, p, ok := strings.Cut(rest, "/")
	if !ok || p == "" {
		return ""
	}
	base := path.Base("/" + p)
	if base == "/" || base == "." {
		return ""
	}
	return base
}
