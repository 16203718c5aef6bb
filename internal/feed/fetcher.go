// Package feed retrieves the upstream status feed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"ixbrbot/internal/event"
	logx "ixbrbot/pkg/logx"
)

const (
	DefaultAttempts = 3
	DefaultBase     = 4 * time.Second
	DefaultTimeout  = 30 * time.Second

	userAgent = "ixbrbot/1.0 (+https://status.ix.br)"
)

// FetchError is the single error class for a failed fetch attempt.
type FetchError struct {
	URL        string
	StatusCode int // 0 for transport or parse failures
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Options struct {
	URL      string
	Timeout  time.Duration
	Attempts int
	Base     time.Duration
	Client   *http.Client // optional; Timeout is ignored when set
	Logger   logx.Logger
}

// Health is the fetcher's failure bookkeeping, read by status surfaces.
type Health struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
	LastAttempts        int       `json:"last_attempts"`
}

// Fetcher fetches with bounded retry. One Fetcher is used by one polling loop.
type Fetcher struct {
	url      string
	client   *http.Client
	attempts int
	base     time.Duration
	log      logx.Logger

	// Sleep waits between attempts. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu     sync.Mutex
	health Health
}

func NewFetcher(opt Options) *Fetcher {
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.Attempts <= 0 {
		opt.Attempts = DefaultAttempts
	}
	if opt.Base <= 0 {
		opt.Base = DefaultBase
	}
	client := opt.Client
	if client == nil {
		client = &http.Client{Timeout: opt.Timeout}
	}
	log := opt.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		url:      opt.URL,
		client:   client,
		attempts: opt.Attempts,
		base:     opt.Base,
		log:      log.With(logx.Component("feed")),
		Sleep:    sleepCtx,
		now:      time.Now,
	}
}

func (f *Fetcher) URL() string { return f.url }

// Fetch returns the feed's entries in feed order. After the last failed
// attempt it returns the final *FetchError and no entries.
func (f *Fetcher) Fetch(ctx context.Context) ([]event.Raw, error) {
	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		entries, err := getFeed(ctx, f.client, f.url)
		if err == nil {
			f.mu.Lock()
			f.health.ConsecutiveFailures = 0
			f.health.LastSuccess = f.now()
			f.health.LastError = ""
			f.health.LastAttempts = attempt + 1
			f.mu.Unlock()
			return entries, nil
		}
		lastErr = err
		f.log.Warn("feed fetch failed",
			logx.Int("attempt", attempt+1),
			logx.Int("max_attempts", f.attempts),
			logx.Err(err),
		)
		if attempt == f.attempts-1 {
			break
		}
		wait := f.base * time.Duration(1<<attempt)
		if serr := f.Sleep(ctx, wait); serr != nil {
			lastErr = serr
			break
		}
	}

	f.mu.Lock()
	f.health.ConsecutiveFailures++
	f.health.LastError = lastErr.Error()
	f.health.LastAttempts = f.attempts
	n := f.health.ConsecutiveFailures
	f.mu.Unlock()

	f.log.Error("feed fetch exhausted retries", logx.Int("consecutive_failures", n), logx.Err(lastErr))
	return nil, lastErr
}

func (f *Fetcher) Health() Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

// getFeed performs one GET and parse. It holds no fetcher state so the
// status probe can share it.
func getFeed(ctx context.Context, client *http.Client, url string) ([]event.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("parse: %w", err)}
	}

	out := make([]event.Raw, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		out = append(out, rawFromItem(it))
	}
	return out, nil
}

func rawFromItem(it *gofeed.Item) event.Raw {
	r := event.Raw{
		GUID:            strings.TrimSpace(it.GUID),
		Title:           it.Title,
		Description:     it.Description,
		Summary:         it.Content,
		Link:            it.Link,
		Published:       it.Published,
		Updated:         it.Updated,
		PublishedParsed: it.PublishedParsed,
		UpdatedParsed:   it.UpdatedParsed,
	}
	if r.Link == "" && len(it.Links) > 0 {
		r.Link = it.Links[0]
	}
	if dc := it.DublinCoreExt; dc != nil && len(dc.Date) > 0 {
		r.Created = dc.Date[0]
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
