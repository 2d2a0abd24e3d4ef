package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, testLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s, func() {
		s.Close()
		os.Remove(dbPath)
	}
}

func TestStore_RecordCheckAndGetAll(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	if err := s.RecordCheck("1.2.0", "https://example.com/1.2.0/app.tar.gz", "abc"); err != nil {
		t.Fatalf("record check failed: %v", err)
	}

	records, err := s.GetAll()
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r.Version != "1.2.0" {
		t.Errorf("Version: got %s, want 1.2.0", r.Version)
	}
	if r.CheckCount != 1 {
		t.Errorf("CheckCount: got %d, want 1", r.CheckCount)
	}
	if r.Downloaded() {
		t.Error("new record should not be downloaded")
	}
}

func TestStore_RecordCheckIncrementsCount(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	s.RecordCheck("1.2.0", "u", "abc")
	s.RecordCheck("1.2.0", "u", "abc")

	r, err := s.Get("1.2.0")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if r.CheckCount != 2 {
		t.Errorf("CheckCount: got %d, want 2", r.CheckCount)
	}
}

func TestStore_ChangedChecksumResetsDownload(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	s.RecordCheck("1.2.0", "u", "abc")
	if err := s.MarkDownloaded("1.2.0", "/tmp/app"); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	s.RecordCheck("1.2.0", "u", "def")

	r, _ := s.Get("1.2.0")
	if r.Downloaded() {
		t.Error("download should be invalidated when the checksum changes")
	}
}

func TestStore_Pending(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	s.RecordCheck("1.9.0", "u", "a")
	s.RecordCheck("1.10.0", "u", "b")
	s.RecordCheck("1.2.0", "u", "c")
	s.MarkDownloaded("1.9.0", "/tmp/1.9.0")
	s.MarkDownloaded("1.10.0", "/tmp/1.10.0")

	p, err := s.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if p == nil || p.Version != "1.10.0" {
		t.Fatalf("Pending: got %+v, want 1.10.0", p)
	}

	if err := s.MarkInstalled("1.10.0"); err != nil {
		t.Fatalf("mark installed: %v", err)
	}
	p, _ = s.Pending()
	if p == nil || p.Version != "1.9.0" {
		t.Errorf("Pending after install: got %+v, want 1.9.0", p)
	}
}

func TestStore_GetAllSortsBySemver(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	for _, v := range []string{"1.10.0", "1.2.0", "1.9.1"} {
		s.RecordCheck(v, "u", v)
	}

	records, _ := s.GetAll()
	want := []string{"1.2.0", "1.9.1", "1.10.0"}
	for i, r := range records {
		if r.Version != want[i] {
			t.Errorf("record %d: got %s, want %s", i, r.Version, want[i])
		}
	}
}

func TestStore_MarkDownloadedMissing(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	if err := s.MarkDownloaded("9.9.9", "/tmp/x"); err == nil {
		t.Error("expected error for unknown release")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	r, err := s.Get("0.0.1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil record, got %+v", r)
	}
}
