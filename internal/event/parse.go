package event

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

const DefaultTitle = "Sem titulo"

// Parse classifies raw. now is the fallback publication date. Every entry
// yields an event; a missing title becomes DefaultTitle.
func Parse(raw Raw, now time.Time) Event {
	title := strings.TrimSpace(raw.Title)
	desc := raw.Description
	if strings.TrimSpace(desc) == "" {
		desc = raw.Summary
	}
	if title == "" {
		title = DefaultTitle
	}

	guid := strings.TrimSpace(raw.GUID)
	if guid == "" {
		guid = hashHex(title+"|"+desc, 16)
	}

	return Event{
		GUID:        guid,
		Title:       title,
		Description: CleanDescription(desc),
		Link:        strings.TrimSpace(raw.Link),
		Published:   ResolvePublished(raw, now),
		Location:    ExtractLocation(title),
		Kind:        Classify(title, desc),
	}
}

var rules = []struct {
	kind     Kind
	keywords []string
}{
	{Resolved, []string{"resolvid", "solved", "restored", "restabelecid", "normalizado", "normalized"}},
	{Maintenance, []string{"manutencao", "maintenance", "janela", "window", "programad", "scheduled"}},
	{Incident, []string{
		"indisponibilidade", "unavailability", "problema", "problem", "incident",
		"incidente", "falha", "failure", "rompimento", "disruption",
	}},
}

// Classify runs the keyword cascade over title and raw description.
// Earlier rules win: a resolved maintenance is Resolved.
func Classify(title, description string) Kind {
	text := strings.ToLower(title + " " + description)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.kind
			}
		}
	}
	return Unknown
}

const locationMarker = "IX.br"

var locationSeps = []string{" - ", " – ", " — "}

// ExtractLocation returns the text after "IX.br" up to a dash separator.
func ExtractLocation(title string) string {
	parts := strings.Split(title, locationMarker)
	if len(parts) < 2 {
		return ""
	}
	return cutAtFirst(strings.TrimSpace(parts[1]), locationSeps)
}

var (
	spaceRun        = regexp.MustCompile(`\s+`)
	descriptionSeps = []string{"+++++", "-----", "=====", "*****"}
)

// CleanDescription strips markup, collapses whitespace and drops any footer
// introduced by a run of separator characters.
func CleanDescription(s string) string {
	text := s
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			text = doc.Text()
		}
	}
	text = strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
	return cutAtFirst(text, descriptionSeps)
}

// cutAtFirst keeps the prefix before the earliest separator, trimmed.
func cutAtFirst(s string, seps []string) string {
	cut := len(s)
	for _, sep := range seps {
		if i := strings.Index(s, sep); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(s[:cut])
}

// ResolvePublished parses the first non-empty of the published, updated and
// created strings (UTC when no offset is given). Failing that it takes the
// first pre-parsed value, then now.
func ResolvePublished(raw Raw, now time.Time) time.Time {
	for _, s := range []string{raw.Published, raw.Updated, raw.Created} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
			return t.UTC()
		}
		break
	}
	for _, t := range []*time.Time{raw.PublishedParsed, raw.UpdatedParsed, raw.CreatedParsed} {
		if t != nil && !t.IsZero() {
			return t.UTC()
		}
	}
	return now.UTC()
}
