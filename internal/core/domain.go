package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// KindFixedShared is a recurring cost shared by the group's residents (rent, utilities).
	KindFixedShared Kind = "FIXED_SHARED"
	// KindAdhocShared is a one-off expense split among an explicit participant set.
	KindAdhocShared Kind = "ADHOC_SHARED"
	// KindTransfer is a direct repayment from the payer to a single participant.
	KindTransfer Kind = "TRANSFER"
)

// MaxNoteLength bounds the free-text note attached to a transaction.
const MaxNoteLength = 500

type (
	Kind string

	Group struct {
		ID         int64
		ExternalID int64 // chat id on the messaging side
		Title      string
		CreatedAt  time.Time
	}

	Member struct {
		ID         int64
		GroupID    int64
		ExternalID int64 // user id on the messaging side
		Username   string
		FirstName  string
		Resident   bool
		CreatedAt  time.Time
	}

	// Transaction is immutable once recorded. Participants holds member IDs
	// ordered by ascending member identity (see Member.IdentityLess).
	Transaction struct {
		ID           int64
		GroupID      int64
		Kind         Kind
		Amount       int64 // minor units
		PayerID      int64
		Participants []int64
		Note         string
		CreatedAt    time.Time
	}
)

var (
	ErrNonPositiveAmount   = errors.New("amount must be a positive integer")
	ErrEmptyParticipantSet = errors.New("participant set must not be empty")
	ErrMemberNotInGroup    = errors.New("all members must belong to the group")
	ErrInvalidKind         = errors.New("invalid transaction kind")
	ErrInvalidTransfer     = errors.New("transfer needs exactly one recipient other than the payer")
	ErrNoteTooLong         = fmt.Errorf("note too long (max %d characters)", MaxNoteLength)
	ErrNotFound            = errors.New("not found")
)

// Valid reports whether k is one of the known transaction kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFixedShared, KindAdhocShared, KindTransfer:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts the canonical names case-insensitively, plus the short
// aliases used by the chat commands ("room", "split", "pay").
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIXED_SHARED", "FIXED", "ROOM":
		return KindFixedShared, nil
	case "ADHOC_SHARED", "ADHOC", "SPLIT":
		return KindAdhocShared, nil
	case "TRANSFER", "PAY":
		return KindTransfer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Label returns the display name of a member: @username, first name, or the
// external id as a last resort.
func (m Member) Label() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	if m.FirstName != "" {
		return m.FirstName
	}
	return strconv.FormatInt(m.ExternalID, 10)
}

// IdentityLess orders members by external identity, breaking ties on the
// internal id. This ordering decides who receives the extra minor unit of an
// uneven split, so it must stay stable.
func (m Member) IdentityLess(o Member) bool {
	if m.ExternalID != o.ExternalID {
		return m.ExternalID < o.ExternalID
	}
	return m.ID < o.ID
}

// Validate checks the invariants every recorded transaction must hold.
// Membership is checked by the recorder, which knows the group roster.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	if err := Money(t.Amount).Validate(); err != nil {
		return err
	}
	if len(t.Participants) == 0 {
		return ErrEmptyParticipantSet
	}
	if utf8.RuneCountInString(t.Note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	if t.Kind == KindTransfer {
		if len(t.Participants) != 1 || t.Participants[0] == t.PayerID {
			return ErrInvalidTransfer
		}
	}
	return nil
}
