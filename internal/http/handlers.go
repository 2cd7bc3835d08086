package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"hisob/internal/core"
	"hisob/internal/ledger"
	"hisob/internal/log"
	"hisob/internal/services"
)

func (s *Server) handleEnsureGroup(w http.ResponseWriter, r *http.Request) {
	externalID, err := strconv.ParseInt(r.PathValue("externalID"), 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid externalID %q", errBadRequest, r.PathValue("externalID")))
		return
	}
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	g, err := s.deps.Store.EnsureGroup(r.Context(), externalID, sanitizeInput(req.Title))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupResponse(g))
}

// group loads the {groupID} path group, writing the error response itself.
func (s *Server) group(w http.ResponseWriter, r *http.Request) (core.Group, bool) {
	id, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, r, err)
		return core.Group{}, false
	}
	g, err := s.deps.Store.GetGroup(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return core.Group{}, false
	}
	return g, true
}

func (s *Server) handleEnsureMember(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ExternalID == 0 {
		writeError(w, r, fmt.Errorf("%w: external_id is required", errBadRequest))
		return
	}

	m, err := s.deps.Store.EnsureMember(r.Context(), core.Member{
		GroupID:    g.ID,
		ExternalID: req.ExternalID,
		Username:   sanitizeInput(req.Username),
		FirstName:  sanitizeInput(req.FirstName),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMemberResponse(m))
}

func (s *Server) handleToggleResident(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	memberID, err := pathID(r, "memberID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.deps.Store.GetMember(r.Context(), memberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if m.GroupID != g.ID {
		writeError(w, r, fmt.Errorf("member %d in group %d: %w", memberID, g.ID, core.ErrNotFound))
		return
	}

	m, err = s.deps.Store.ToggleResident(r.Context(), memberID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.rosterChanged(r, g.ID)
	writeJSON(w, http.StatusOK, newMemberResponse(m))
}

// rosterChanged refreshes the dashboard's resident list. Failures are only
// logged.
func (s *Server) rosterChanged(r *http.Request, groupID int64) {
	if s.deps.Notifier == nil {
		return
	}
	notify := s.deps.Notifier.LedgerChanged
	if rn, ok := s.deps.Notifier.(RosterNotifier); ok {
		notify = rn.MembersChanged
	}
	if err := notify(r.Context(), groupID); err != nil {
		slog.WarnContext(r.Context(), "Roster change notification failed",
			log.FieldComponent, log.ComponentHTTP,
			log.FieldGroupID, groupID,
			log.FieldError, err)
	}
}

func (s *Server) handleAppendTransaction(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	kind, err := core.ParseKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amt, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		writeError(w, r, fmt.Errorf("amount %q: %w", req.Amount, err))
		return
	}
	note := sanitizeInput(req.Note)

	var tx core.Transaction
	if kind == core.KindFixedShared && len(req.Participants) == 0 {
		tx, err = s.deps.Recorder.FixedShared(r.Context(), g.ID, req.PayerID, int64(amt), note)
	} else {
		tx, err = s.deps.Recorder.Append(r.Context(), services.AppendRequest{
			GroupID:      g.ID,
			Kind:         kind,
			Amount:       int64(amt),
			PayerID:      req.PayerID,
			Participants: req.Participants,
			Note:         note,
		})
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	txs, err := s.deps.Recorder.ListRecent(r.Context(), g.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, newTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	members, err := s.deps.Store.ListMembers(r.Context(), g.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.deps.Store.ListTransactions(r.Context(), g.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view := ledger.BuildView(g, members, txs, 0, time.Now())
	writeJSON(w, http.StatusOK, newSummaryResponse(view))
}

func (s *Server) handleUpdateDashboard(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	if s.deps.Dashboard == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "dashboard publishing is not configured"})
		return
	}
	if err := s.deps.Dashboard.UpdateNow(r.Context(), g.ID); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Dashboard update failed",
			log.FieldComponent, log.ComponentHTTP,
			log.FieldGroupID, g.ID,
			log.FieldError, err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "dashboard update failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": g.ID, "updated": true})
}
