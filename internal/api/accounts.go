package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/boostd/internal/db"
)

// AccountView is an account with its live session state, if any.
type AccountView struct {
	db.Account   `yaml:",inline"`
	SessionState string `json:"session_state,omitempty" yaml:"session_state,omitempty"`
}

func (s *Server) view(a *db.Account) AccountView {
	v := AccountView{Account: *a}
	if snap, ok := s.coord.GetStatus(a.ID); ok {
		v.SessionState = snap.State.String()
	}
	return v
}

func (s *Server) requireAccounts(w http.ResponseWriter, r *http.Request) bool {
	if s.accounts == nil {
		s.writeError(w, r, errors.New("accounts repository not configured"))
		return false
	}
	return true
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w, r) {
		return
	}
	accounts, err := s.accounts.ListAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, s.view(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w, r) {
		return
	}
	var req db.NewAccount
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		badRequest(w, "username and password are required")
		return
	}

	a, err := s.accounts.CreateAccount(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("account created", "account_id", a.ID, "username", a.Username)
	writeJSON(w, http.StatusCreated, s.view(a))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w, r) {
		return
	}
	a, err := s.accounts.ResolveAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(a))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w, r) {
		return
	}
	var u db.AccountUpdate
	if err := decodeBody(r, &u); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if u.Password != nil && *u.Password == "" {
		badRequest(w, "password must not be empty")
		return
	}

	a, err := s.accounts.ResolveAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err = s.accounts.UpdateAccount(r.Context(), a.ID, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(a))
}

// handleDeleteAccount stops the account's live session before removing it.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w, r) {
		return
	}
	a, err := s.accounts.ResolveAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.coord.Stop(r.Context(), a.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.accounts.DeleteAccount(r.Context(), a.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("account deleted", "account_id", a.ID, "username", a.Username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "account_id": a.ID})
}

func (s *Server) handleAccountStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w, r) {
		return
	}
	a, err := s.accounts.ResolveAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.accounts.AccountStatistics(r.Context(), a.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAccountSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireAccounts(w, r) {
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	a, err := s.accounts.ResolveAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.accounts.RecentSessions(r.Context(), a.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []db.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
