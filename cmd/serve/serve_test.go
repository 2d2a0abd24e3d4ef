package serve

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"deskshell/internal/control"
	"deskshell/internal/fingerprint"
	"deskshell/internal/lifecycle"
	"deskshell/internal/shell"
)

func TestBridgeSecret(t *testing.T) {
	got, err := bridgeSecret("configured")
	if err != nil || string(got) != "configured" {
		t.Errorf("configured secret: got %q, %v", got, err)
	}

	a, err := bridgeSecret("")
	if err != nil {
		t.Fatalf("random secret: %v", err)
	}
	b, _ := bridgeSecret("")
	if len(a) != 32 {
		t.Errorf("secret length: got %d, want 32", len(a))
	}
	if string(a) == string(b) {
		t.Error("generated secrets should differ")
	}
}

func TestInstance_Install(t *testing.T) {
	machine := lifecycle.New()
	sh := shell.New(shell.Config{}, nil, machine, zerolog.Nop(),
		shell.WithCollector(func() fingerprint.MachineInfo { return fingerprint.MachineInfo{} }))
	inst := &instance{shell: sh, machine: machine}

	if err := inst.Install(); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("install without a download: got %v, want ErrInvalidTransition", err)
	}

	if _, err := machine.Fire(lifecycle.UpdateReady); err != nil {
		t.Fatalf("update ready: %v", err)
	}
	if err := inst.Install(); err != nil {
		t.Fatalf("install: %v", err)
	}
	if inst.State() != lifecycle.Quitting || !machine.InstallOnQuit() {
		t.Errorf("state: got %s, install on quit %v", inst.State(), machine.InstallOnQuit())
	}
}

func TestInstance_Quit(t *testing.T) {
	machine := lifecycle.New()
	sh := shell.New(shell.Config{}, nil, machine, zerolog.Nop())
	inst := &instance{shell: sh, machine: machine}

	if err := inst.Quit(); err != nil {
		t.Fatalf("quit: %v", err)
	}
	select {
	case <-machine.Done():
	default:
		t.Error("Done should be closed after quit")
	}
	if inst.Windows() != 0 {
		t.Errorf("Windows: got %d, want 0", inst.Windows())
	}
}

type runningTarget struct {
	activations atomic.Int32
}

func (r *runningTarget) State() lifecycle.State { return lifecycle.Running }
func (r *runningTarget) Windows() int           { return int(r.activations.Load()) }
func (r *runningTarget) MachineID() string      { return "" }
func (r *runningTarget) Quit() error            { return nil }
func (r *runningTarget) Install() error         { return nil }

func (r *runningTarget) Activate() error {
	r.activations.Add(1)
	return nil
}

func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dsv")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func TestActivateRunning_NothingListening(t *testing.T) {
	running, err := activateRunning(shortSocket(t))
	if running || err != nil {
		t.Errorf("activateRunning: got %v, %v, want false, nil", running, err)
	}
}

func TestActivateRunning_HandsOffToInstance(t *testing.T) {
	sock := shortSocket(t)
	target := &runningTarget{}
	srv, err := control.StartServer(sock, target, zerolog.Nop())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Close()

	running, err := activateRunning(sock)
	if !running || err != nil {
		t.Fatalf("activateRunning: got %v, %v, want true, nil", running, err)
	}
	if got := target.activations.Load(); got != 1 {
		t.Errorf("activations: got %d, want 1", got)
	}
}
