package updater

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// LoadPublicKey parses an authorized_keys style key. value is either the
// key line itself or a path to a file containing it.
func LoadPublicKey(value string) (ssh.PublicKey, error) {
	data := []byte(value)
	if !strings.HasPrefix(strings.TrimSpace(value), "ssh-") {
		b, err := os.ReadFile(value)
		if err != nil {
			return nil, fmt.Errorf("reading public key %s: %w", value, err)
		}
		data = b
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if pub.Type() != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("unsupported update key type %s (want %s)", pub.Type(), ssh.KeyAlgoED25519)
	}
	return pub, nil
}

// VerifySignature checks a base64 ed25519 signature over the artifact's
// SHA-256 digest.
func VerifySignature(pub ssh.PublicKey, digest []byte, signature string) error {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("%w: decoding signature: %v", ErrBadSignature, err)
	}
	sig := &ssh.Signature{Format: pub.Type(), Blob: blob}
	if err := pub.Verify(digest, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// leveledLogger routes retryablehttp's logging into zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.emit(l.log.Error(), msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.emit(l.log.Warn(), msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.emit(l.log.Debug(), msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.emit(l.log.Trace(), msg, kv) }

func (l leveledLogger) emit(ev *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		ev = ev.Str(key, fmt.Sprint(kv[i+1]))
	}
	ev.Msg(msg)
}
