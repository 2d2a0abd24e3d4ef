package bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// TokenSize is the length of a decoded page token in bytes.
const TokenSize = sha256.Size

// Token returns the hex HMAC-SHA256 of the page id under the bridge secret.
func Token(pageID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(pageID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken performs a constant-time comparison of a presented token
// against the expected one for the page.
func VerifyToken(token, pageID string, secret []byte) bool {
	sig, err := hex.DecodeString(token)
	if err != nil || len(sig) != TokenSize {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(pageID))
	return hmac.Equal(sig, mac.Sum(nil))
}
