// Package event turns raw feed entries into typed, deduplicable status events
// and renders them as Telegram HTML.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Kind is the closed set of event classes.
type Kind int

const (
	Unknown Kind = iota
	Maintenance
	Incident
	Resolved
)

// String is the stable name used in fingerprints. Changing it re-sends every event.
func (k Kind) String() string {
	switch k {
	case Maintenance:
		return "maintenance"
	case Incident:
		return "incident"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Label is the bracketed tag shown at the top of a rendered message.
func (k Kind) Label() string {
	switch k {
	case Maintenance:
		return "[MANUTENCAO]"
	case Incident:
		return "[INCIDENTE]"
	case Resolved:
		return "[RESOLVIDO]"
	default:
		return "[AVISO]"
	}
}

// Event is one classified feed entry. It is rebuilt every cycle and never mutated.
type Event struct {
	GUID        string
	Title       string
	Description string // cleaned, plain text
	Link        string
	Published   time.Time
	Location    string // empty when the title names no IX.br location
	Kind        Kind
}

// ContentHash fingerprints the user-visible content. Two events with equal
// title, description and kind share a hash regardless of guid or dates.
func (e Event) ContentHash() string {
	return hashHex(e.Title+"|"+e.Description+"|"+e.Kind.String(), 32)
}

// Raw is a feed entry before classification. Empty strings mean absent.
type Raw struct {
	GUID        string
	Title       string
	Description string
	Summary     string
	Link        string

	Published string
	Updated   string
	Created   string

	PublishedParsed *time.Time
	UpdatedParsed   *time.Time
	CreatedParsed   *time.Time
}

func hashHex(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}
