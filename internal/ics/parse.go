package ics

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"icscsv/internal/model"
)

const (
	beginEvent = "BEGIN:VEVENT"
	endEvent   = "END:VEVENT"
)

var (
	mailtoRe = regexp.MustCompile(`(?i)mailto:([^;]+)`)

	descriptionUnescaper = []struct{ from, to string }{
		{`\n`, " "},
		{`\,`, ","},
		{`\\`, `\`},
	}
)

// Parse extracts every VEVENT in document into a flat model.Event.
//
// Parsing is best-effort and never fails:
//   - lines are split on LF with an optional preceding CR and unfolded
//     (continuation lines start with a space or tab) before anything else;
//   - a BEGIN:VEVENT starts a fresh event, replacing any unterminated one;
//   - END:VEVENT only emits when an event is open;
//   - properties outside an event, lines without ':' and unknown names are
//     ignored;
//   - an event still open at the end of the document is dropped.
//
// The result preserves document order and is empty (not nil) when no event
// was found. Deciding whether that is an error is up to the caller.
func Parse(document string) []model.Event {
	events := make([]model.Event, 0)
	var current *model.Event

	for _, line := range unfold(document) {
		line = strings.TrimSpace(line)

		switch {
		case line == beginEvent:
			current = &model.Event{}
		case line == endEvent:
			if current != nil {
				events = append(events, *current)
				current = nil
			}
		case current != nil && strings.Contains(line, ":"):
			applyProperty(current, line)
		}
	}

	return events
}

// unfold splits document into logical lines, joining folded continuations.
func unfold(document string) []string {
	physical := strings.Split(document, "\n")
	for i, l := range physical {
		physical[i] = strings.TrimSuffix(l, "\r")
	}

	logical := make([]string, 0, len(physical))
	for i := 0; i < len(physical); i++ {
		var b strings.Builder
		b.WriteString(physical[i])
		for i+1 < len(physical) && isContinuation(physical[i+1]) {
			i++
			b.WriteString(physical[i][1:])
		}
		logical = append(logical, b.String())
	}
	return logical
}

func isContinuation(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

func applyProperty(ev *model.Event, line string) {
	name, value, _ := strings.Cut(line, ":")
	name = strings.ToUpper(name)
	// Parameters such as TZID or VALUE=DATE do not change how the value is read.
	base, _, _ := strings.Cut(name, ";")

	switch base {
	case "SUMMARY":
		ev.Summary = value
	case "DTSTART":
		ev.DTStart = FormatDateTime(value)
	case "DTEND":
		ev.DTEnd = FormatDateTime(value)
	case "DESCRIPTION":
		ev.Description = unescapeDescription(value)
	case "LOCATION":
		ev.Location = value
	case "ORGANIZER":
		ev.Organizer = organizerAddress(value)
	case "STATUS":
		ev.Status = value
	case "UID":
		ev.UID = value
	case "CREATED":
		ev.Created = FormatDateTime(value)
	case "LAST-MODIFIED":
		ev.LastModified = FormatDateTime(value)
	}
}

// unescapeDescription applies the replacements in order, so a backslash
// produced by the last one is never re-read as the start of an escape.
func unescapeDescription(v string) string {
	for _, r := range descriptionUnescaper {
		v = strings.ReplaceAll(v, r.from, r.to)
	}
	return v
}

// organizerAddress returns the mailto: address in v, or v itself when there
// is none.
func organizerAddress(v string) string {
	if m := mailtoRe.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return v
}

// FormatDateTime rewrites an ICS DATE or DATE-TIME value as
// "YYYY-MM-DD HH:MM:SS" or "YYYY-MM-DD".
//
// The digits are reformatted positionally; the value is not interpreted as an
// instant and no zone conversion happens, so "20240115T093000Z" and
// "20240115T093000" both become "2024-01-15 09:30:00". Values that do not
// look like either shape are returned unchanged.
func FormatDateTime(v string) string {
	if v == "" {
		return ""
	}

	if strings.Contains(v, "T") {
		digits := []rune(strings.NewReplacer("T", "", "Z", "").Replace(v))
		if len(digits) < 8 {
			return v
		}
		return string(digits[0:4]) + "-" + string(digits[4:6]) + "-" + string(digits[6:8]) +
			" " + group(digits, 8) + ":" + group(digits, 10) + ":" + group(digits, 12)
	}

	if utf8.RuneCountInString(v) == 8 {
		r := []rune(v)
		return string(r[0:4]) + "-" + string(r[4:6]) + "-" + string(r[6:8])
	}

	return v
}

// group returns the two-character time group starting at from, "00" when
// the value is too short to contain it, or the single character left when it
// is cut in half.
func group(r []rune, from int) string {
	if from >= len(r) {
		return "00"
	}
	return string(r[from:min(from+2, len(r))])
}
