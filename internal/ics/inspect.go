package ics

import (
	"bytes"
	"fmt"

	ical "github.com/arran4/golang-ical"
)

// CalendarInfo is calendar-level metadata that does not make it into the
// CSV, reported by the inspect command and logged by the exporter.
type CalendarInfo struct {
	ProductID string `json:"prodid,omitempty"`
	Version   string `json:"version,omitempty"`
	Name      string `json:"name,omitempty"`
	TimeZone  string `json:"timezone,omitempty"`
	Method    string `json:"method,omitempty"`

	// StrictEvents is the VEVENT count according to a strict RFC 5545
	// parser; it can differ from len(Parse(...)) on malformed input.
	StrictEvents int `json:"strict_events"`
	// MissingUID counts strictly parsed events without a UID.
	MissingUID int `json:"missing_uid"`
}

// Inspect runs a strict parse of body and collects calendar metadata.
// Unlike Parse it fails on documents that are not well-formed calendars.
func Inspect(body []byte) (CalendarInfo, error) {
	var info CalendarInfo
	if len(body) == 0 {
		return info, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader([]byte(DecodeText(body))))
	if err != nil {
		return info, fmt.Errorf("strict ics parse: %w", err)
	}

	for _, p := range cal.CalendarProperties {
		switch p.IANAToken {
		case "PRODID":
			info.ProductID = p.Value
		case "VERSION":
			info.Version = p.Value
		case "X-WR-CALNAME":
			info.Name = p.Value
		case "X-WR-TIMEZONE":
			info.TimeZone = p.Value
		case "METHOD":
			info.Method = p.Value
		}
	}

	for _, ev := range cal.Events() {
		info.StrictEvents++
		if uid := ev.GetProperty(ical.ComponentPropertyUniqueId); uid == nil || uid.Value == "" {
			info.MissingUID++
		}
	}

	return info, nil
}
