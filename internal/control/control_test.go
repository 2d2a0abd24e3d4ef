package control

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"deskshell/internal/lifecycle"
)

type fakeTarget struct {
	machine   *lifecycle.Machine
	activated atomic.Int32
}

func (f *fakeTarget) State() lifecycle.State { return f.machine.State() }
func (f *fakeTarget) Windows() int           { return 2 + int(f.activated.Load()) }
func (f *fakeTarget) MachineID() string      { return "abc123" }

func (f *fakeTarget) Quit() error {
	_, err := f.machine.Fire(lifecycle.QuitRequested)
	return err
}

func (f *fakeTarget) Activate() error {
	if f.machine.State() == lifecycle.Quitting {
		return errors.New("shell is quitting")
	}
	f.activated.Add(1)
	return nil
}

func (f *fakeTarget) Install() error {
	_, err := f.machine.Fire(lifecycle.InstallRequested)
	return err
}

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are length-limited; keep them short.
	dir, err := os.MkdirTemp("", "dsk")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func startServer(t *testing.T, target Target) *Client {
	t.Helper()
	path := socketPath(t)
	srv, err := StartServer(path, target, zerolog.Nop())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	client, err := NewClient(path)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStatus(t *testing.T) {
	client := startServer(t, &fakeTarget{machine: lifecycle.New()})

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != "running" {
		t.Errorf("State: got %s, want running", status.State)
	}
	if status.Windows != 2 {
		t.Errorf("Windows: got %d, want 2", status.Windows)
	}
	if status.MachineID != "abc123" {
		t.Errorf("MachineID: got %s, want abc123", status.MachineID)
	}
}

func TestQuit(t *testing.T) {
	machine := lifecycle.New()
	client := startServer(t, &fakeTarget{machine: machine})

	state, err := client.Quit(false)
	if err != nil {
		t.Fatalf("quit: %v", err)
	}
	if state != "quitting" {
		t.Errorf("State: got %s, want quitting", state)
	}
	if machine.State() != lifecycle.Quitting {
		t.Errorf("machine state: got %s, want quitting", machine.State())
	}
}

func TestInstall_WithoutUpdate(t *testing.T) {
	machine := lifecycle.New()
	client := startServer(t, &fakeTarget{machine: machine})

	_, err := client.Quit(true)
	if err == nil {
		t.Fatal("install without a downloaded update should fail")
	}
	if !strings.Contains(err.Error(), "invalid lifecycle transition") {
		t.Errorf("unexpected error: %v", err)
	}
	if machine.State() != lifecycle.Running {
		t.Errorf("machine state: got %s, want running", machine.State())
	}
}

func TestInstall_AfterUpdate(t *testing.T) {
	machine := lifecycle.New()
	machine.Fire(lifecycle.UpdateReady)
	client := startServer(t, &fakeTarget{machine: machine})

	if _, err := client.Quit(true); err != nil {
		t.Fatalf("install: %v", err)
	}
	if !machine.InstallOnQuit() {
		t.Error("install on quit should be set")
	}
}

func TestNewClient_NoServer(t *testing.T) {
	if _, err := NewClient(socketPath(t)); err == nil {
		t.Error("expected error dialing a missing socket")
	}
}

func TestActivate(t *testing.T) {
	target := &fakeTarget{machine: lifecycle.New()}
	client := startServer(t, target)

	windows, err := client.Activate()
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := target.activated.Load(); got != 1 {
		t.Errorf("activated: got %d, want 1", got)
	}
	if windows != 3 {
		t.Errorf("Windows: got %d, want 3", windows)
	}
}

func TestActivate_Quitting(t *testing.T) {
	machine := lifecycle.New()
	machine.Fire(lifecycle.QuitRequested)
	client := startServer(t, &fakeTarget{machine: machine})

	if _, err := client.Activate(); err == nil {
		t.Error("activate while quitting should fail")
	}
}
