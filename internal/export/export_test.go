package export

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"icscsv/internal/convert"
	"icscsv/internal/ics"
)

const feedICS = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nBEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Lunch, with Bob\r\nDTSTART:20240115T120000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/team.ics":
			_, _ = w.Write([]byte(feedICS))
		case "/empty.ics":
			_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExportOneWritesCSV(t *testing.T) {
	srv := feedServer(t)
	out := t.TempDir()
	e := New(ics.NewFetcher(t.TempDir()), out, true)

	st, err := e.ExportOne(context.Background(), ics.Source{ID: "team", Name: "Team", URL: srv.URL + "/team.ics"})
	if err != nil {
		t.Fatalf("ExportOne: %v", err)
	}
	if st.EventCount != 1 || st.Path != filepath.Join(out, "team.csv") || st.Error != "" {
		t.Errorf("unexpected status %+v", st)
	}

	data, err := os.ReadFile(st.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "\xef\xbb\xbf") {
		t.Error("missing BOM")
	}
	events, err := convert.ReadCSV(strings.TrimPrefix(string(data), "\xef\xbb\xbf"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(events) != 1 || events[0].Summary != "Lunch, with Bob" || events[0].DTStart != "2024-01-15 12:00:00" {
		t.Errorf("unexpected exported events %+v", events)
	}

	if got, ok := e.Get("team"); !ok || got.EventCount != 1 {
		t.Errorf("Get(team) = %+v, %v", got, ok)
	}
}

func TestRunOnceRecordsFailures(t *testing.T) {
	srv := feedServer(t)
	e := New(ics.NewFetcher(t.TempDir()), t.TempDir(), false)

	err := e.RunOnce(context.Background(), []ics.Source{
		{ID: "team", URL: srv.URL + "/team.ics"},
		{ID: "empty", URL: srv.URL + "/empty.ics"},
		{ID: "missing", URL: srv.URL + "/missing.ics"},
	})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, ics.ErrNoEvents) {
		t.Errorf("error should include ErrNoEvents: %v", err)
	}

	statuses := e.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	ids := []string{statuses[0].ID, statuses[1].ID, statuses[2].ID}
	if strings.Join(ids, ",") != "empty,missing,team" {
		t.Errorf("statuses not sorted: %v", ids)
	}
	if statuses[0].Error == "" || statuses[1].Error == "" || statuses[2].Error != "" {
		t.Errorf("unexpected errors in %+v", statuses)
	}
}

func TestRunOnceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(ics.NewFetcher(t.TempDir()), t.TempDir(), false)
	if err := e.RunOnce(ctx, []ics.Source{{ID: "a", URL: "http://127.0.0.1:1/a.ics"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("RunOnce on canceled ctx = %v", err)
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	e := New(ics.NewFetcher(t.TempDir()), t.TempDir(), false)
	if _, err := e.Schedule(context.Background(), "not a cron", nil); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}
