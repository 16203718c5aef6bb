package feed

import (
	"context"
	"net/http"
	"time"

	"ixbrbot/internal/event"
)

type ProbeResult struct {
	Reachable    bool      `json:"reachable"`
	TotalEntries int       `json:"total_entries"`
	LastTitle    string    `json:"last_title,omitempty"`
	LastDate     time.Time `json:"last_date,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Prober is a single-attempt fetch for /status. It has no retry state.
type Prober struct {
	url    string
	client *http.Client
}

func NewProber(url string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *Prober) Probe(ctx context.Context) ProbeResult {
	entries, err := getFeed(ctx, p.client, p.url)
	if err != nil {
		return ProbeResult{Error: err.Error()}
	}
	res := ProbeResult{Reachable: true, TotalEntries: len(entries)}
	if len(entries) > 0 {
		first := entries[0]
		res.LastTitle = first.Title
		if res.LastTitle == "" {
			res.LastTitle = event.DefaultTitle
		}
		res.LastDate = event.ResolvePublished(first, time.Now().UTC())
	}
	return res
}
