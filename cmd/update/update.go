// Package update implements the deskshell update command: check the feed,
// optionally download, and list what the store has recorded.
package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"deskshell/internal/lifecycle"
	"deskshell/internal/store"
	"deskshell/internal/updater"
	"deskshell/internal/version"
	"deskshell/pkg/config"
	"deskshell/pkg/logger"
)

// Options configures Run.
type Options struct {
	ConfigPath string
	Download   bool
	History    bool
	Out        io.Writer
}

// Run performs a single update check.
func Run(opts Options) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	cfg, err := config.Discover(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level)

	if err := os.MkdirAll(cfg.Update.DownloadDir, 0700); err != nil {
		return fmt.Errorf("creating directory %s: %w", cfg.Update.DownloadDir, err)
	}
	db, err := store.New(cfg.Update.DBPath, log)
	if err != nil {
		return fmt.Errorf("opening store: %w\nIs 'deskshell serve' holding it?", err)
	}
	defer db.Close()

	if opts.History {
		records, err := db.GetAll()
		if err != nil {
			return err
		}
		displayHistory(out, records)
		return nil
	}

	up, err := updater.New(updater.Config{
		FeedURL:     cfg.Update.FeedURL,
		PublicKey:   cfg.Update.PublicKey,
		DownloadDir: cfg.Update.DownloadDir,
		Current:     version.Semantic,
	}, db, lifecycle.New(), nil, log)
	if err != nil {
		return fmt.Errorf("configuring updater: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rel, newer, err := up.Check(ctx)
	if errors.Is(err, updater.ErrNoFeed) {
		return fmt.Errorf("%w: set [update] feed_url in the config", err)
	}
	if err != nil {
		return err
	}

	if !newer {
		fmt.Fprintf(out, "deskshell v%s is up to date (feed offers v%s)\n", version.Semantic, rel.Version)
		return nil
	}
	fmt.Fprintf(out, "Update available: v%s -> v%s\n", version.Semantic, rel.Version)
	if !opts.Download {
		return nil
	}

	path, err := up.Download(ctx, rel)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Downloaded to %s\nIt will be installed the next time deskshell quits.\n", path)
	return nil
}

func displayHistory(out io.Writer, records []store.ReleaseRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No releases recorded yet.")
		return
	}

	fmt.Fprintf(out, "\n  %-12s %-6s %-10s %-10s %-20s\n", "Version", "Checks", "Download", "Installed", "Last Seen")
	fmt.Fprintf(out, "  %s %s %s %s %s\n",
		strings.Repeat("─", 12), strings.Repeat("─", 6), strings.Repeat("─", 10),
		strings.Repeat("─", 10), strings.Repeat("─", 20))
	for _, r := range records {
		fmt.Fprintf(out, "  %-12s %-6d %-10s %-10s %-20s\n",
			truncate(r.Version, 12),
			r.CheckCount,
			yesNo(r.Downloaded()),
			yesNo(r.Installed),
			r.CheckedAt.Format("2006-01-02 15:04:05"),
		)
	}
	fmt.Fprintln(out)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
