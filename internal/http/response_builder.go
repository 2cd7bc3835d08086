package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"hisob/internal/core"
	"hisob/internal/log"
)

type groupResponse struct {
	ID         int64     `json:"id"`
	ExternalID int64     `json:"external_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
}

type memberResponse struct {
	ID         int64  `json:"id"`
	GroupID    int64  `json:"group_id"`
	ExternalID int64  `json:"external_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	Label      string `json:"label"`
	Resident   bool   `json:"resident"`
}

type transactionResponse struct {
	ID            int64     `json:"id"`
	GroupID       int64     `json:"group_id"`
	Kind          core.Kind `json:"kind"`
	Amount        int64     `json:"amount"`
	AmountDisplay string    `json:"amount_display"`
	PayerID       int64     `json:"payer_id"`
	Participants  []int64   `json:"participants"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type balanceResponse struct {
	MemberID   int64  `json:"member_id"`
	Label      string `json:"label"`
	Net        int64  `json:"net"`
	NetDisplay string `json:"net_display"`
}

type transferResponse struct {
	From          int64  `json:"from"`
	To            int64  `json:"to"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
}

type shareResponse struct {
	MemberID   int64 `json:"member_id"`
	TotalShare int64 `json:"total_share"`
}

type summaryResponse struct {
	GroupID        int64              `json:"group_id"`
	Balances       []balanceResponse  `json:"balances"`
	Transfers      []transferResponse `json:"transfers"`
	FixedTotal     int64              `json:"fixed_total"`
	FixedBreakdown []shareResponse    `json:"fixed_breakdown"`
}

func newGroupResponse(g core.Group) groupResponse {
	return groupResponse{ID: g.ID, ExternalID: g.ExternalID, Title: g.Title, CreatedAt: g.CreatedAt}
}

func newMemberResponse(m core.Member) memberResponse {
	return memberResponse{
		ID:         m.ID,
		GroupID:    m.GroupID,
		ExternalID: m.ExternalID,
		Username:   m.Username,
		FirstName:  m.FirstName,
		Label:      m.Label(),
		Resident:   m.Resident,
	}
}

func newTransactionResponse(t core.Transaction) transactionResponse {
	participants := t.Participants
	if participants == nil {
		participants = []int64{}
	}
	return transactionResponse{
		ID:            t.ID,
		GroupID:       t.GroupID,
		Kind:          t.Kind,
		Amount:        t.Amount,
		AmountDisplay: core.Money(t.Amount).String(),
		PayerID:       t.PayerID,
		Participants:  participants,
		Note:          t.Note,
		CreatedAt:     t.CreatedAt,
	}
}

func newSummaryResponse(v core.View) summaryResponse {
	out := summaryResponse{
		GroupID:        v.Group.ID,
		Balances:       make([]balanceResponse, 0, len(v.Balances)),
		Transfers:      make([]transferResponse, 0, len(v.Transfers)),
		FixedTotal:     v.FixedTotal,
		FixedBreakdown: make([]shareResponse, 0, len(v.FixedBreakdown)),
	}
	for _, b := range v.Balances {
		out.Balances = append(out.Balances, balanceResponse{
			MemberID:   b.MemberID,
			Label:      v.MembersByID[b.MemberID].Label(),
			Net:        b.Net,
			NetDisplay: core.Money(b.Net).Signed(),
		})
	}
	for _, t := range v.Transfers {
		out.Transfers = append(out.Transfers, transferResponse{
			From: t.From, To: t.To, Amount: t.Amount, AmountDisplay: core.Money(t.Amount).String(),
		})
	}
	for _, e := range v.FixedBreakdown {
		out.FixedBreakdown = append(out.FixedBreakdown, shareResponse{MemberID: e.MemberID, TotalShare: e.TotalShare})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", log.FieldComponent, log.ComponentHTTP, log.FieldError, err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// validationErrors are domain rejections reported back as 400.
var validationErrors = []error{
	errBadRequest,
	core.ErrInvalidAmount,
	core.ErrNonPositiveAmount,
	core.ErrEmptyParticipantSet,
	core.ErrMemberNotInGroup,
	core.ErrInvalidKind,
	core.ErrInvalidTransfer,
	core.ErrNoteTooLong,
}

func errorStatus(err error) int {
	if errors.Is(err, core.ErrNotFound) {
		return http.StatusNotFound
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status code. Internal errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldComponent, log.ComponentHTTP,
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
