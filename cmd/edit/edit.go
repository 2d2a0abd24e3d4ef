// Package edit implements the deskshell edit command.
package edit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"deskshell/pkg/config"
)

const defaultConfigTemplate = `[log]
  level = "info"

[shell]
  dashboard_url      = "` + config.DefaultDashboardURL + `"
  user_agent_suffix  = "` + config.DefaultUserAgentSuffix + `"
  width              = 1200
  height             = 800
  content_protection = true
  dev_tools          = false

[bridge]
  listen    = "127.0.0.1:8765"
  max_conns = 32
  # secret = ""          # random per run when unset
  # allowed_origin = ""  # defaults to the dashboard origin

[update]
  feed_url      = ""
  public_key    = ""
  interval      = "6h"
  auto_download = true

[control]
  # socket = "~/.config/deskshell/control.sock"
`

// Template returns the config written for a fresh install.
func Template() string { return defaultConfigTemplate }

// Run opens the configuration file in the system editor.
// If the file does not exist, it creates it with default values.
func Run(configPath string) error {
	path := config.ResolvePath(configPath)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return err
	}

	// Catch typos before the next serve does.
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("config saved but invalid: %w", err)
	}
	return nil
}

func findEditor() (string, error) {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	candidates := []string{"vi", "nano", "vim"}
	if runtime.GOOS == "windows" {
		candidates = []string{"notepad"}
	}
	for _, e := range candidates {
		if _, err := exec.LookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found ($EDITOR environment variable not set, and none of %v in PATH)", candidates)
}
