package model

// Event is one VEVENT flattened into the fixed set of columns the converter
// exports. Every field is plain text; a property missing from the source
// block is left as the empty string.
//
// Date/time fields (DTStart, DTEnd, Created, LastModified) hold the
// normalized wall-clock text produced by ics.FormatDateTime, not time.Time,
// because no time-zone resolution is performed.
type Event struct {
	Summary     string `json:"summary"`
	DTStart     string `json:"dtstart"`
	DTEnd       string `json:"dtend"`
	Description string `json:"description"`
	Location    string `json:"location"`

	// Organizer is the bare mailto: address when one is present.
	Organizer string `json:"organizer"`
	Status    string `json:"status"`
	UID       string `json:"uid"`

	Created      string `json:"created"`
	LastModified string `json:"last_modified"`
}
