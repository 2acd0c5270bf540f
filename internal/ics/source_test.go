package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/unicode"
)

func TestCheckFilename(t *testing.T) {
	for _, name := range []string{"cal.ics", "CAL.ICS", "export.Ics", "/tmp/a.b.ics"} {
		if err := CheckFilename(name); err != nil {
			t.Errorf("CheckFilename(%q) = %v, want nil", name, err)
		}
	}
	for _, name := range []string{"", "cal.csv", "cal.ics.txt", "ics"} {
		if err := CheckFilename(name); !errors.Is(err, ErrNotICS) {
			t.Errorf("CheckFilename(%q) = %v, want ErrNotICS", name, err)
		}
	}
}

func TestDecodeText(t *testing.T) {
	plain := "BEGIN:VEVENT\nSUMMARY:Café\nEND:VEVENT"

	if got := DecodeText([]byte(plain)); got != plain {
		t.Errorf("plain UTF-8 changed: %q", got)
	}
	if got := DecodeText(append([]byte("\xef\xbb\xbf"), plain...)); got != plain {
		t.Errorf("UTF-8 BOM not stripped: %q", got)
	}

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(plain))
	if err != nil {
		t.Fatalf("encode utf-16: %v", err)
	}
	if got := DecodeText(utf16); got != plain {
		t.Errorf("UTF-16 input not transcoded: %q", got)
	}

	events := Parse(DecodeText(utf16))
	if len(events) != 1 || events[0].Summary != "Café" {
		t.Errorf("parse after decode = %+v", events)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "team.ics")
	if err := os.WriteFile(good, []byte(sampleICS), 0o600); err != nil {
		t.Fatal(err)
	}
	body, err := ReadFile(good)
	if err != nil || string(body) != sampleICS {
		t.Fatalf("ReadFile(good) = %q, %v", body, err)
	}

	empty := filepath.Join(dir, "empty.ics")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(empty); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("ReadFile(empty) = %v, want ErrEmptyBody", err)
	}

	if _, err := ReadFile(filepath.Join(dir, "team.txt")); !errors.Is(err, ErrNotICS) {
		t.Errorf("ReadFile(.txt) = %v, want ErrNotICS", err)
	}
	if _, err := ReadFile(filepath.Join(dir, "missing.ics")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadFile(missing) = %v, want not-exist", err)
	}
}

func TestOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	ctx := context.Background()
	f := NewFetcher(t.TempDir())

	in, err := Open(ctx, f, srv.URL+"/feeds/Team.ics?token=secret")
	if err != nil {
		t.Fatalf("Open(url): %v", err)
	}
	if in.Name != "Team.ics" || string(in.Body) != sampleICS {
		t.Errorf("Open(url) = name %q body %q", in.Name, in.Body)
	}

	in, err = Open(ctx, f, srv.URL)
	if err != nil {
		t.Fatalf("Open(bare host): %v", err)
	}
	if in.Name != "" {
		t.Errorf("bare host name = %q, want empty", in.Name)
	}

	if _, err := Open(ctx, nil, srv.URL+"/x.ics"); err == nil {
		t.Error("expected error for URL without fetcher")
	}

	path := filepath.Join(t.TempDir(), "local.ics")
	if err := os.WriteFile(path, []byte(sampleICS), 0o600); err != nil {
		t.Fatal(err)
	}
	in, err = Open(ctx, nil, path)
	if err != nil || in.Name != "local.ics" {
		t.Errorf("Open(path) = %+v, %v", in, err)
	}
}
