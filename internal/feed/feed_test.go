package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>IX.br status</title>
  <item>
    <title>IX.br Sao Paulo - Manutencao programada</title>
    <description>janela de manutencao das 2h as 4h</description>
    <link>https://status.ix.br/incidents/1</link>
    <guid>inc-1</guid>
    <pubDate>Mon, 04 May 2026 10:00:00 +0000</pubDate>
  </item>
  <item>
    <title>IX.br Rio de Janeiro - Falha</title>
    <description>rompimento de fibra</description>
    <dc:date>2026-05-03T08:00:00Z</dc:date>
  </item>
</channel>
</rss>`

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestFetchParsesEntries(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(Options{URL: srv.URL})
	entries, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].GUID != "inc-1" || entries[0].Link != "https://status.ix.br/incidents/1" {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[0].Published == "" || entries[0].PublishedParsed == nil {
		t.Fatalf("published date missing: %+v", entries[0])
	}
	if entries[1].Created != "2026-05-03T08:00:00Z" {
		t.Fatalf("dc:date = %q", entries[1].Created)
	}

	h := f.Health()
	if h.ConsecutiveFailures != 0 || h.LastSuccess.IsZero() || h.LastAttempts != 1 {
		t.Fatalf("health = %+v", h)
	}
}

func TestFetchRetriesWithBackoff(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleRSS))
	}))
	t.Cleanup(srv.Close)

	var waits []time.Duration
	f := NewFetcher(Options{URL: srv.URL})
	f.Sleep = noSleep(&waits)

	entries, err := f.Fetch(context.Background())
	if err != nil || len(entries) != 2 {
		t.Fatalf("Fetch = %d entries, err=%v", len(entries), err)
	}
	if len(waits) != 2 || waits[0] != 4*time.Second || waits[1] != 8*time.Second {
		t.Fatalf("waits = %v, want [4s 8s]", waits)
	}
	if h := f.Health(); h.LastAttempts != 3 || h.ConsecutiveFailures != 0 {
		t.Fatalf("health = %+v", h)
	}
}

func TestFetchExhaustion(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	var waits []time.Duration
	f := NewFetcher(Options{URL: srv.URL})
	f.Sleep = noSleep(&waits)

	for cycle := 1; cycle <= 2; cycle++ {
		entries, err := f.Fetch(context.Background())
		if entries != nil {
			t.Fatalf("cycle %d: entries should be nil", cycle)
		}
		var fe *FetchError
		if !errors.As(err, &fe) || fe.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("cycle %d: err = %v", cycle, err)
		}
		if got := f.Health().ConsecutiveFailures; got != cycle {
			t.Fatalf("cycle %d: consecutive failures = %d", cycle, got)
		}
	}
	// two waits per exhausted cycle, none after the last attempt
	if len(waits) != 4 {
		t.Fatalf("waits = %v", waits)
	}
}

func TestFetchParseError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a feed"))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(Options{URL: srv.URL, Attempts: 1})
	_, err := f.Fetch(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 0 {
		t.Fatalf("err = %v", err)
	}
	if f.Health().LastError == "" {
		t.Fatalf("LastError not recorded")
	}
}

func TestFetchStopsOnCancel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFetcher(Options{URL: srv.URL})
	calls := 0
	f.Sleep = func(ctx context.Context, d time.Duration) error {
		calls++
		cancel()
		return ctx.Err()
	}
	if _, err := f.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("sleep calls = %d", calls)
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleRSS))
	}))
	t.Cleanup(srv.Close)

	res := NewProber(srv.URL, time.Second).Probe(context.Background())
	if !res.Reachable || res.TotalEntries != 2 || res.LastTitle != "IX.br Sao Paulo - Manutencao programada" {
		t.Fatalf("probe = %+v", res)
	}
	want := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	if !res.LastDate.Equal(want) {
		t.Fatalf("LastDate = %v, want %v", res.LastDate, want)
	}

	srv.Close()
	if res := NewProber(srv.URL, time.Second).Probe(context.Background()); res.Reachable || res.Error == "" {
		t.Fatalf("closed server probe = %+v", res)
	}
}
