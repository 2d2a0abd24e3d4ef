// Package info implements the deskshell info command: print this machine's fingerprint.
package info

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"deskshell/internal/bridge"
	"deskshell/internal/fingerprint"
)

// Output formats.
const (
	FormatAuto         = "auto"
	FormatTable        = "table"
	FormatJSON         = "json"
	FormatScript       = "script"
	FormatLegacyScript = "legacy-script"
	FormatSnapshot     = "snapshot"
)

// Options configures Run.
type Options struct {
	Format string
	// From replays a recorded snapshot instead of reading the live system.
	From string
	Out  io.Writer
}

// Run computes the fingerprint and writes it in the requested format.
func Run(opts Options) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var src fingerprint.Source = fingerprint.System()
	if opts.From != "" {
		snap, err := fingerprint.LoadSnapshot(opts.From)
		if err != nil {
			return err
		}
		src = snap
	}

	format := opts.Format
	if format == "" || format == FormatAuto {
		format = FormatJSON
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = FormatTable
		}
	}

	info := fingerprint.Compute(src)

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case FormatTable:
		displayInfoTable(out, info, opts.From == "")
		return nil
	case FormatScript:
		_, err := io.WriteString(out, bridge.Script(info))
		return err
	case FormatLegacyScript:
		_, err := io.WriteString(out, bridge.LegacyScript(info))
		return err
	case FormatSnapshot:
		data, err := fingerprint.TakeSnapshot(src).Marshal()
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		_, err = out.Write(data)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func displayInfoTable(out io.Writer, info fingerprint.MachineInfo, live bool) {
	fmt.Fprintf(out, "\n  %-12s %s\n", "Key", "Value")
	fmt.Fprintf(out, "  %s %s\n", strings.Repeat("─", 12), strings.Repeat("─", 64))
	for _, p := range info.Pairs() {
		value := p.Value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(out, "  %-12s %s\n", p.Key, value)
	}

	if !live {
		fmt.Fprintln(out)
		return
	}
	d := fingerprint.DescribeHost()
	fmt.Fprintf(out, "\n  %-12s %s\n", "OS name", d.OSName)
	fmt.Fprintf(out, "  %-12s %s\n", "Kernel", d.Kernel)
	fmt.Fprintf(out, "  %-12s %s\n\n", "Arch", d.Arch)
}
