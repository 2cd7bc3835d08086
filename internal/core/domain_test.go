package core

import (
	"errors"
	"strings"
	"testing"
)

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"FIXED_SHARED", KindFixedShared, true},
		{"room", KindFixedShared, true},
		{" adhoc_shared ", KindAdhocShared, true},
		{"split", KindAdhocShared, true},
		{"Transfer", KindTransfer, true},
		{"pay", KindTransfer, true},
		{"", "", false},
		{"loan", "", false},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q: expected %s, got %s (err=%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidKind) {
			t.Fatalf("%q: expected ErrInvalidKind, got %v", tc.in, err)
		}
	}
}

func TestMemberLabel(t *testing.T) {
	if got := (Member{Username: "ali", FirstName: "Ali", ExternalID: 7}).Label(); got != "@ali" {
		t.Fatalf("got %q", got)
	}
	if got := (Member{FirstName: "Ali", ExternalID: 7}).Label(); got != "Ali" {
		t.Fatalf("got %q", got)
	}
	if got := (Member{ExternalID: 7}).Label(); got != "7" {
		t.Fatalf("got %q", got)
	}
}

func TestMemberIdentityLess(t *testing.T) {
	a := Member{ID: 9, ExternalID: 10}
	b := Member{ID: 1, ExternalID: 20}
	if !a.IdentityLess(b) || b.IdentityLess(a) {
		t.Fatalf("external id must dominate internal id")
	}
	c := Member{ID: 2, ExternalID: 10}
	if !c.IdentityLess(a) {
		t.Fatalf("equal external ids must fall back to internal id")
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{Kind: KindAdhocShared, Amount: 100, PayerID: 1, Participants: []int64{1, 2}}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name string
		tx   Transaction
		want error
	}{
		{"zero amount", Transaction{Kind: KindAdhocShared, Amount: 0, PayerID: 1, Participants: []int64{1}}, ErrNonPositiveAmount},
		{"negative amount", Transaction{Kind: KindAdhocShared, Amount: -3, PayerID: 1, Participants: []int64{1}}, ErrNonPositiveAmount},
		{"amount above cap", Transaction{Kind: KindAdhocShared, Amount: 1 << 62, PayerID: 1, Participants: []int64{1}}, ErrAmountTooLarge},
		{"no participants", Transaction{Kind: KindAdhocShared, Amount: 1, PayerID: 1}, ErrEmptyParticipantSet},
		{"unknown kind", Transaction{Kind: "LOAN", Amount: 1, PayerID: 1, Participants: []int64{1}}, ErrInvalidKind},
		{"transfer to self", Transaction{Kind: KindTransfer, Amount: 1, PayerID: 1, Participants: []int64{1}}, ErrInvalidTransfer},
		{"transfer to many", Transaction{Kind: KindTransfer, Amount: 1, PayerID: 1, Participants: []int64{2, 3}}, ErrInvalidTransfer},
		{"long note", Transaction{Kind: KindAdhocShared, Amount: 1, PayerID: 1, Participants: []int64{1}, Note: strings.Repeat("x", MaxNoteLength+1)}, ErrNoteTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.tx.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
