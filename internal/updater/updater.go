// Package updater checks the release feed, downloads verified update
// artifacts and signals the lifecycle once an update is ready.
package updater

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"deskshell/internal/lifecycle"
	"deskshell/internal/metrics"
	"deskshell/internal/store"
)

var (
	// ErrNoFeed is returned when no feed URL is configured.
	ErrNoFeed = errors.New("update feed not configured")
	// ErrChecksumMismatch is returned when a download does not match the feed checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrBadSignature is returned when a download's signature does not verify.
	ErrBadSignature = errors.New("signature verification failed")
	// ErrNothingPending is returned by Apply when no downloaded release awaits install.
	ErrNothingPending = errors.New("no pending update")
)

// Release is the update feed document.
type Release struct {
	Version   string `json:"version"`
	URL       string `json:"url"`
	SHA256    string `json:"sha256"`
	Signature string `json:"signature,omitempty"`
}

// Config configures an Updater.
type Config struct {
	FeedURL     string
	PublicKey   string
	DownloadDir string
	Current     string
}

// Updater drives update checks and downloads.
type Updater struct {
	feedURL string
	dir     string
	current *semver.Version
	pubKey  ssh.PublicKey
	client  *retryablehttp.Client
	store   *store.Store
	machine *lifecycle.Machine
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu sync.Mutex
}

// New validates cfg and returns an Updater. m may be nil.
func New(cfg Config, st *store.Store, machine *lifecycle.Machine, m *metrics.Metrics, log zerolog.Logger) (*Updater, error) {
	current, err := semver.NewVersion(cfg.Current)
	if err != nil {
		return nil, fmt.Errorf("parsing current version %q: %w", cfg.Current, err)
	}

	var pub ssh.PublicKey
	if cfg.PublicKey != "" {
		pub, err = LoadPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = leveledLogger{log: log}

	return &Updater{
		feedURL: cfg.FeedURL,
		dir:     cfg.DownloadDir,
		current: current,
		pubKey:  pub,
		client:  client,
		store:   st,
		machine: machine,
		metrics: m,
		log:     log,
	}, nil
}

// Check fetches the feed and reports whether it offers a newer release.
func (u *Updater) Check(ctx context.Context) (*Release, bool, error) {
	rel, newer, err := u.check(ctx)
	if u.metrics != nil {
		result := "current"
		switch {
		case err != nil:
			result = "error"
		case newer:
			result = "available"
		}
		u.metrics.UpdateChecks.WithLabelValues(result).Inc()
	}
	return rel, newer, err
}

func (u *Updater) check(ctx context.Context) (*Release, bool, error) {
	if u.feedURL == "" {
		return nil, false, ErrNoFeed
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.feedURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetching feed %s: %w", u.feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("fetching feed %s: %s", u.feedURL, resp.Status)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, false, fmt.Errorf("decoding feed: %w", err)
	}

	v, err := semver.NewVersion(strings.TrimPrefix(rel.Version, "v"))
	if err != nil {
		return nil, false, fmt.Errorf("parsing feed version %q: %w", rel.Version, err)
	}
	rel.Version = v.String()

	if u.store != nil {
		if err := u.store.RecordCheck(rel.Version, rel.URL, rel.SHA256); err != nil {
			u.log.Warn().Err(err).Str("version", rel.Version).Msg("Failed to record update check")
		}
	}

	newer := u.current.LessThan(*v)
	u.log.Debug().
		Str("current", u.current.String()).
		Str("latest", rel.Version).
		Bool("newer", newer).
		Msg("Update feed checked")
	return &rel, newer, nil
}

// Download fetches the release artifact, verifies checksum and signature,
// records it and fires UpdateReady. It returns the artifact path.
func (u *Updater) Download(ctx context.Context, rel *Release) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.store != nil {
		rec, err := u.store.Get(rel.Version)
		if err != nil {
			return "", err
		}
		if rec == nil || rec.SHA256 != rel.SHA256 {
			if err := u.store.RecordCheck(rel.Version, rel.URL, rel.SHA256); err != nil {
				return "", fmt.Errorf("recording release: %w", err)
			}
		} else if rec.Downloaded() {
			if _, err := os.Stat(rec.Path); err == nil {
				if rec.Installed {
					u.log.Info().Str("version", rel.Version).Msg("Release already installed")
					return rec.Path, nil
				}
				u.ready(rel.Version)
				return rec.Path, nil
			}
		}
	}

	name, err := artifactName(rel.URL)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(u.dir, rel.Version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating download directory %s: %w", dir, err)
	}
	dest := filepath.Join(dir, name)

	digest, err := u.fetch(ctx, rel.URL, dest+".part")
	if err != nil {
		os.Remove(dest + ".part")
		return "", err
	}

	if err := u.verify(rel, digest); err != nil {
		os.Remove(dest + ".part")
		return "", err
	}

	if err := os.Rename(dest+".part", dest); err != nil {
		return "", fmt.Errorf("finalising download: %w", err)
	}
	if err := os.Chmod(dest, 0755); err != nil {
		u.log.Warn().Err(err).Str("path", dest).Msg("Failed to mark artifact executable")
	}

	if u.store != nil {
		if err := u.store.MarkDownloaded(rel.Version, dest); err != nil {
			return "", fmt.Errorf("recording download: %w", err)
		}
	}

	u.log.Info().Str("version", rel.Version).Str("path", dest).Msg("Update downloaded")
	u.ready(rel.Version)
	return dest, nil
}

func (u *Updater) fetch(ctx context.Context, src, dest string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: %s", src, resp.Status)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", dest, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		return nil, fmt.Errorf("writing %s: %w", dest, err)
	}
	return h.Sum(nil), nil
}

func (u *Updater) verify(rel *Release, digest []byte) error {
	want, err := hex.DecodeString(strings.TrimSpace(rel.SHA256))
	if err != nil || !bytes.Equal(want, digest) {
		return fmt.Errorf("%w: got %x, want %s", ErrChecksumMismatch, digest, rel.SHA256)
	}
	if u.pubKey == nil {
		return nil
	}
	if rel.Signature == "" {
		return fmt.Errorf("%w: release %s is unsigned", ErrBadSignature, rel.Version)
	}
	return VerifySignature(u.pubKey, digest, rel.Signature)
}

func (u *Updater) ready(version string) {
	if u.machine == nil {
		return
	}
	if _, err := u.machine.Fire(lifecycle.UpdateReady); err != nil {
		u.log.Warn().Err(err).Str("version", version).Msg("Update ready ignored")
	}
}

// pending returns the stored download awaiting install, or nil when there is
// none or it is not newer than the running version.
func (u *Updater) pending() (*store.ReleaseRecord, error) {
	if u.store == nil {
		return nil, nil
	}
	rec, err := u.store.Pending()
	if err != nil || rec == nil {
		return nil, err
	}
	v, err := semver.NewVersion(rec.Version)
	if err != nil || !u.current.LessThan(*v) {
		u.log.Debug().Str("version", rec.Version).Str("current", u.current.String()).Msg("Ignoring stale download")
		return nil, nil
	}
	return rec, nil
}

// Resume fires UpdateReady if a previous run left a verified download
// that has not been installed and is newer than the running version.
func (u *Updater) Resume() (*store.ReleaseRecord, error) {
	rec, err := u.pending()
	if err != nil || rec == nil {
		return nil, err
	}
	if _, err := os.Stat(rec.Path); err != nil {
		return nil, nil
	}
	u.ready(rec.Version)
	return rec, nil
}

// Apply launches the pending installer artifact detached and marks it installed.
func (u *Updater) Apply() (*store.ReleaseRecord, error) {
	rec, err := u.pending()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNothingPending
	}

	cmd := exec.Command(rec.Path)
	cmd.Dir = filepath.Dir(rec.Path)
	if err := cmd.Start(); err != nil {
		return rec, fmt.Errorf("starting installer %s: %w", rec.Path, err)
	}
	if err := cmd.Process.Release(); err != nil {
		u.log.Warn().Err(err).Msg("Failed to release installer process")
	}

	if err := u.store.MarkInstalled(rec.Version); err != nil {
		return rec, err
	}
	u.log.Info().Str("version", rec.Version).Str("path", rec.Path).Msg("Installer started")
	return rec, nil
}

// Run checks the feed every interval until ctx ends, downloading newer
// releases when autoDownload is set.
func (u *Updater) Run(ctx context.Context, interval time.Duration, autoDownload bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		u.runOnce(ctx, autoDownload)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (u *Updater) runOnce(ctx context.Context, autoDownload bool) {
	rel, newer, err := u.Check(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			u.log.Error().Err(err).Msg("Update check failed")
		}
		return
	}
	if !newer {
		return
	}

	u.log.Info().Str("version", rel.Version).Msg("Update available")
	if !autoDownload {
		return
	}
	if _, err := u.Download(ctx, rel); err != nil {
		u.log.Error().Err(err).Str("version", rel.Version).Msg("Update download failed")
	}
}

func artifactName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing artifact url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("artifact url %q has no file name", raw)
	}
	return name, nil
}
