package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reasons attached to ledger-changed messages.
const (
	ReasonTransactionAppended = "transaction_appended"
	ReasonMembersChanged      = "members_changed"
	ReasonManual              = "manual"
)

var ErrInvalidMessage = errors.New("invalid ledger changed message")

// LedgerChangedMessage tells the worker that a group's ledger changed. It
// carries only the group id; the worker recomputes everything from storage.
type LedgerChangedMessage struct {
	GroupID   int64     `json:"group_id"`
	MessageID string    `json:"message_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerChangedMessage(groupID int64, reason string) *LedgerChangedMessage {
	return &LedgerChangedMessage{
		GroupID:   groupID,
		MessageID: uuid.NewString(),
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

func (m *LedgerChangedMessage) Validate() error {
	if m.GroupID <= 0 {
		return ErrInvalidMessage
	}
	return nil
}

func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
