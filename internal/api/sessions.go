package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dicklesworthstone/boostd/internal/coordinator"
)

// LoginRequest is the body of POST /sessions. Account is an account id or
// username.
type LoginRequest struct {
	Account       string `json:"account"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
}

// LoginResponse acknowledges an admitted login attempt.
type LoginResponse struct {
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// ChallengeRequest is the body of POST /sessions/{account}/challenge.
type ChallengeRequest struct {
	Code string `json:"code"`
}

// ActivityRequest is the body of PUT /sessions/{account}/activity. Items may
// be JSON numbers or strings; entries that are not non-negative integers are
// dropped.
type ActivityRequest struct {
	Items []json.RawMessage `json:"items"`
}

// ActivityResponse reports the activity set after PUT.
type ActivityResponse struct {
	AccountID string `json:"account_id"`
	Activity  []int  `json:"activity"`
}

// ClearActivityResponse reports what DELETE cleared.
type ClearActivityResponse struct {
	AccountID        string `json:"account_id"`
	PreviousActivity []int  `json:"previous_activity"`
}

func (s *Server) handleStartLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	ref := strings.TrimSpace(req.Account)
	if ref == "" {
		badRequest(w, "account required")
		return
	}
	if s.accounts == nil {
		s.writeError(w, r, errors.New("accounts repository not configured"))
		return
	}

	account, err := s.accounts.ResolveAccount(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sessionID, err := s.coord.StartLogin(r.Context(), account.ID, coordinator.Credentials{
		Username:      account.Username,
		Password:      account.Password,
		TwoFactorCode: strings.TrimSpace(req.TwoFactorCode),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("login requested",
		"account_id", account.ID,
		"session_id", sessionID)

	writeJSON(w, http.StatusAccepted, LoginResponse{
		AccountID: account.ID,
		SessionID: sessionID,
		State:     coordinator.StateConnecting.String(),
	})
}

// sessionAccount maps the {account} path value to a coordinator key. Live
// sessions match first, then registered ids and usernames; anything else is
// passed through so the coordinator reports it as absent.
func (s *Server) sessionAccount(ctx context.Context, r *http.Request) string {
	ref := r.PathValue("account")
	if _, ok := s.coord.GetStatus(ref); ok || s.accounts == nil {
		return ref
	}
	if account, err := s.accounts.ResolveAccount(ctx, ref); err == nil {
		return account.ID
	}
	return ref
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	accountID := s.sessionAccount(r.Context(), r)
	snap, ok := s.coord.GetStatus(accountID)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %s", coordinator.ErrNotFound, accountID))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	accountID := s.sessionAccount(r.Context(), r)
	if err := s.coord.Stop(r.Context(), accountID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "account_id": accountID})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	accountID := s.sessionAccount(r.Context(), r)
	if err := s.coord.SubmitChallengeResponse(r.Context(), accountID, strings.TrimSpace(req.Code)); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("challenge response received",
		"account_id", accountID,
		"code", coordinator.RedactCode(req.Code))

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted", "account_id": accountID})
}

func (s *Server) handleSetActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	accountID := s.sessionAccount(r.Context(), r)
	activity, err := s.coord.SetActivity(r.Context(), accountID, rawItems(req.Items))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActivityResponse{AccountID: accountID, Activity: activity})
}

func (s *Server) handleClearActivity(w http.ResponseWriter, r *http.Request) {
	accountID := s.sessionAccount(r.Context(), r)
	previous, err := s.coord.ClearActivity(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearActivityResponse{AccountID: accountID, PreviousActivity: previous})
}

// rawItems flattens JSON strings and numbers to their text form.
func rawItems(items []json.RawMessage) []string {
	out := make([]string, 0, len(items))
	for _, raw := range items {
		var str string
		if err := json.Unmarshal(raw, &str); err == nil {
			out = append(out, str)
			continue
		}
		out = append(out, string(raw))
	}
	return out
}
