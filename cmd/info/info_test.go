package info

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deskshell/internal/fingerprint"
)

const snapshot = `
hostname = "lab-07"
platform = "darwin"

[[entries]]
  interface = "en0"
  mac = "aa:bb:cc:dd:ee:ff"
`

func writeSnapshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.toml")
	if err := os.WriteFile(path, []byte(snapshot), 0644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func TestRun_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(Options{Format: FormatJSON, From: writeSnapshot(t), Out: &buf}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var got fingerprint.MachineInfo
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MachineName != "lab-07" || got.Flag != "mac" {
		t.Errorf("got %+v", got)
	}
	if got.MachineID != fingerprint.ID("aa:bb:cc:dd:ee:ff", "lab-07") {
		t.Errorf("MachineID: got %s", got.MachineID)
	}
}

func TestRun_AutoNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(Options{From: writeSnapshot(t), Out: &buf}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("auto format on a non-terminal should be JSON, got %q", buf.String())
	}
}

func TestRun_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(Options{Format: FormatTable, From: writeSnapshot(t), Out: &buf}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(buf.String(), "macAddress") || !strings.Contains(buf.String(), "aa:bb:cc:dd:ee:ff") {
		t.Errorf("table missing macAddress row:\n%s", buf.String())
	}
}

func TestRun_Scripts(t *testing.T) {
	for _, format := range []string{FormatScript, FormatLegacyScript} {
		var buf bytes.Buffer
		if err := Run(Options{Format: format, From: writeSnapshot(t), Out: &buf}); err != nil {
			t.Fatalf("run %s: %v", format, err)
		}
		if got := strings.Count(buf.String(), "localStorage.setItem("); got != 7 {
			t.Errorf("%s: setItem calls: got %d, want 7", format, got)
		}
	}
}

func TestRun_SnapshotReplays(t *testing.T) {
	var buf bytes.Buffer
	from := writeSnapshot(t)
	if err := Run(Options{Format: FormatSnapshot, From: from, Out: &buf}); err != nil {
		t.Fatalf("run: %v", err)
	}

	replay := filepath.Join(t.TempDir(), "replay.toml")
	if err := os.WriteFile(replay, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, _ := fingerprint.LoadSnapshot(from)
	b, err := fingerprint.LoadSnapshot(replay)
	if err != nil {
		t.Fatalf("load replay: %v", err)
	}
	if fingerprint.Compute(a) != fingerprint.Compute(b) {
		t.Error("snapshot output should replay to the same fingerprint")
	}
}

func TestRun_UnknownFormat(t *testing.T) {
	if err := Run(Options{Format: "xml", From: writeSnapshot(t), Out: &bytes.Buffer{}}); err == nil {
		t.Error("expected error for unknown format")
	}
}
