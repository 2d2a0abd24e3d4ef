package bridge

import (
	"strings"
	"testing"

	"deskshell/internal/fingerprint"
)

func sampleInfo() fingerprint.MachineInfo {
	return fingerprint.MachineInfo{
		MachineName: "lab-07",
		MACAddress:  "aa:bb:cc:dd:ee:ff",
		MachineID:   fingerprint.ID("aa:bb:cc:dd:ee:ff", "lab-07"),
		AllMACs:     "aa:bb:cc:dd:ee:ff",
		OS:          "linux",
		Flag:        "linux",
		AppVersion:  "8081",
	}
}

func TestEscapeSingleQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"o'brien", `o\'brien`},
		{"''", `\'\'`},
		{`back\slash`, `back\slash`},
	}
	for _, tt := range tests {
		if got := EscapeSingleQuote(tt.in); got != tt.want {
			t.Errorf("EscapeSingleQuote(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLegacyScript(t *testing.T) {
	info := sampleInfo()
	info.MachineName = "o'brien-pc"

	script := LegacyScript(info)
	if !strings.Contains(script, `localStorage.setItem('machineName', 'o\'brien-pc');`) {
		t.Errorf("escaped machineName missing from script:\n%s", script)
	}
	if got := strings.Count(script, "localStorage.setItem("); got != 7 {
		t.Errorf("setItem calls: got %d, want 7", got)
	}
}

func TestScript_QuotesValues(t *testing.T) {
	info := sampleInfo()
	info.MachineName = "evil\\'); alert(1); //\n</script>"

	script := Script(info)
	lines := strings.Split(strings.TrimSpace(script), "\n")
	if len(lines) != 7 {
		t.Fatalf("lines: got %d, want 7:\n%s", len(lines), script)
	}
	want := `localStorage.setItem("machineName", "evil\\'); alert(1); //\n\u003c/script\u003e");`
	if lines[0] != want {
		t.Errorf("machineName line:\ngot  %s\nwant %s", lines[0], want)
	}
	if lines[6] != `localStorage.setItem("appVersion", "8081");` {
		t.Errorf("appVersion line: got %s", lines[6])
	}
}

func TestNewMachineInfoMessage(t *testing.T) {
	msg := NewMachineInfoMessage(sampleInfo(), "ua")
	if msg.Type != TypeMachineInfo {
		t.Errorf("Type: got %s, want %s", msg.Type, TypeMachineInfo)
	}
	if msg.Version != MessageVersion {
		t.Errorf("Version: got %d, want %d", msg.Version, MessageVersion)
	}
	if msg.ID == "" {
		t.Error("ID should be set")
	}
	if len(msg.Data) != 7 {
		t.Errorf("Data keys: got %d, want 7", len(msg.Data))
	}
	if msg.Data["machineId"] != sampleInfo().MachineID {
		t.Errorf("machineId: got %s", msg.Data["machineId"])
	}
	if other := NewMachineInfoMessage(sampleInfo(), "ua"); other.ID == msg.ID {
		t.Error("message ids should be unique")
	}
}
