package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const sampleICS = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Example//Test//EN\r\nX-WR-CALNAME:Team\r\nBEGIN:VEVENT\r\nUID:1@example.com\r\nDTSTAMP:20240101T000000Z\r\nSUMMARY:Standup\r\nDTSTART:20240115T093000Z\r\nDTEND:20240115T094500Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func TestFetchOneConditionalCache(t *testing.T) {
	var mode atomic.Value
	mode.Store("ok")
	var conditional atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch mode.Load().(string) {
		case "fail":
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "team", URL: srv.URL + "/team.ics"}
	ctx := context.Background()

	res, err := f.FetchOne(ctx, src)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if res.FromCache || string(res.Body) != sampleICS {
		t.Fatalf("first fetch should be fresh, got FromCache=%v body=%q", res.FromCache, res.Body)
	}

	res, err = f.FetchOne(ctx, src)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !res.FromCache || string(res.Body) != sampleICS {
		t.Errorf("second fetch should come from cache after 304, got FromCache=%v", res.FromCache)
	}
	if conditional.Load() != 1 {
		t.Errorf("expected 1 conditional request, got %d", conditional.Load())
	}

	mode.Store("fail")
	res, err = f.FetchOne(ctx, src)
	if err != nil {
		t.Fatalf("fetch with upstream failure should fall back to cache: %v", err)
	}
	if !res.FromCache {
		t.Error("expected cached fallback on upstream failure")
	}
}

func TestFetchOneFailureWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	if _, err := f.FetchOne(context.Background(), Source{ID: "x", URL: srv.URL}); err == nil {
		t.Fatal("expected error for 404 without cache")
	}
	if _, err := f.FetchOne(context.Background(), Source{ID: "empty"}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestFetchAllCollectsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.ics" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	results, errs := f.FetchAll(context.Background(), []Source{
		{ID: "good", URL: srv.URL + "/good.ics"},
		{ID: "bad", URL: srv.URL + "/bad.ics"},
	})
	if len(results) != 1 || results[0].Source.ID != "good" {
		t.Errorf("expected only the good feed, got %+v", results)
	}
	if len(errs) != 1 {
		t.Errorf("expected 1 error, got %v", errs)
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://calendar.example.com/private/abc123/basic.ics?token=x", "https://calendar.example.com/...(redacted)"},
		{"http://host:8080", "http://host:8080/...(redacted)"},
		{"not a url", "ics://...(redacted)"},
	}
	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
