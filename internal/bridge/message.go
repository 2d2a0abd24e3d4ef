// Package bridge is the host-to-page channel: it carries machine info to
// the dashboard page as structured messages over a local HTTP endpoint.
package bridge

import (
	"time"

	"github.com/google/uuid"

	"deskshell/internal/fingerprint"
)

// MessageVersion is the schema version of Message.
const MessageVersion = 1

// TypeMachineInfo is the message type carrying fingerprint data.
const TypeMachineInfo = "machine-info"

// Message is a single host-to-page message.
type Message struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	Version           int               `json:"version"`
	SentAt            time.Time         `json:"sentAt"`
	UserAgent         string            `json:"userAgent,omitempty"`
	ContentProtection bool              `json:"contentProtection"`
	Data              map[string]string `json:"data"`
}

// NewMachineInfoMessage wraps a fingerprint record. Data holds exactly the
// seven storage keys.
func NewMachineInfoMessage(info fingerprint.MachineInfo, userAgent string) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      TypeMachineInfo,
		Version:   MessageVersion,
		SentAt:    time.Now().UTC(),
		UserAgent: userAgent,
		Data:      info.Map(),
	}
}
