package update

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var artifact = []byte("installer-bytes")

func feedServer(t *testing.T, version string) *httptest.Server {
	t.Helper()
	sum := sha256.Sum256(artifact)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.json":
			fmt.Fprintf(w, `{"version":%q,"url":%q,"sha256":%q}`,
				version, srv.URL+"/deskshell-setup", hex.EncodeToString(sum[:]))
		case "/deskshell-setup":
			w.Write(artifact)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, feedURL string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
[log]
  level = "error"

[update]
  feed_url     = %q
  download_dir = %q
  db_path      = %q
`, feedURL, filepath.Join(dir, "updates"), filepath.Join(dir, "updates.db"))

	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_UpToDate(t *testing.T) {
	srv := feedServer(t, "0.9.0")
	var buf bytes.Buffer
	if err := Run(Options{ConfigPath: writeConfig(t, srv.URL+"/feed.json"), Out: &buf}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(buf.String(), "up to date") {
		t.Errorf("output: got %q", buf.String())
	}
}

func TestRun_DownloadThenHistory(t *testing.T) {
	srv := feedServer(t, "v9.0.0")
	cfgPath := writeConfig(t, srv.URL+"/feed.json")

	var buf bytes.Buffer
	if err := Run(Options{ConfigPath: cfgPath, Download: true, Out: &buf}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(buf.String(), "v9.0.0") || !strings.Contains(buf.String(), "Downloaded to") {
		t.Errorf("output: got %q", buf.String())
	}

	buf.Reset()
	if err := Run(Options{ConfigPath: cfgPath, History: true, Out: &buf}); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(buf.String(), "9.0.0") || !strings.Contains(buf.String(), "yes") {
		t.Errorf("history: got %q", buf.String())
	}
}

func TestRun_NoFeed(t *testing.T) {
	if err := Run(Options{ConfigPath: writeConfig(t, ""), Out: &bytes.Buffer{}}); err == nil {
		t.Error("expected error without a feed")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("1.0.0-beta.12", 12); got != "1.0.0-beta.…" {
		t.Errorf("truncate: got %s", got)
	}
	if got := truncate("1.0.0", 12); got != "1.0.0" {
		t.Errorf("truncate: got %s", got)
	}
}
