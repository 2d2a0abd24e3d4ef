// Package status implements the commands that talk to a running deskshell
// over its control socket.
package status

import (
	"fmt"
	"io"
	"os"

	"deskshell/internal/control"
	"deskshell/pkg/config"
)

// Run prints the running instance's lifecycle state and window count.
func Run(configPath string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	fmt.Fprintf(out, "  %-10s %s\n", "State", st.State)
	fmt.Fprintf(out, "  %-10s %d\n", "Windows", st.Windows)
	fmt.Fprintf(out, "  %-10s %s\n", "Machine", st.MachineID)
	return nil
}

// Install asks the running instance to quit and install its downloaded update.
func Install(configPath string, out io.Writer) error {
	return quit(configPath, true, out)
}

// Quit asks the running instance to quit. It succeeds when nothing is running,
// so it is safe to call from installers and uninstallers.
func Quit(configPath string, out io.Writer) error {
	err := quit(configPath, false, out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return nil
}

func quit(configPath string, install bool, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	state, err := client.Quit(install)
	if err != nil {
		return fmt.Errorf("requesting quit: %w", err)
	}
	fmt.Fprintf(out, "deskshell is %s\n", state)
	return nil
}

func dial(configPath string) (*control.Client, error) {
	cfg, err := config.Discover(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	client, err := control.NewClient(cfg.Control.Socket)
	if err != nil {
		return nil, fmt.Errorf("%w\nIs 'deskshell serve' running?", err)
	}
	return client, nil
}
