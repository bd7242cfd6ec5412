package server

import (
	"net/http"
	"strings"

	"musegate/internal/app"
	"musegate/pkg/domain"
)

type adminCreditRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

func (s *Server) handleAdminAccounts(w http.ResponseWriter, r *http.Request, _ domain.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	accounts, err := s.app.ListAccounts()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": accounts,
		"count": len(accounts),
	})
}

// handleAdminAccountByID serves /admin/accounts/{id} (DELETE),
// /admin/accounts/{id}/credit (POST) and /admin/accounts/{id}/ledger (GET).
func (s *Server) handleAdminAccountByID(w http.ResponseWriter, r *http.Request, admin domain.Account) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/accounts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeleteAccount(admin.ID, id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "credit":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req adminCreditRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		remaining, err := s.app.AdminCreditTokens(admin.ID, id, req.Amount, req.Note)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"tokens": remaining})
	case "ledger":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		entries, err := s.app.AdminListLedger(id, 200)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": entries,
			"count": len(entries),
		})
	default:
		http.NotFound(w, r)
	}
}

// handleAdminContentByID serves /admin/content/{id} (PATCH, DELETE).
func (s *Server) handleAdminContentByID(w http.ResponseWriter, r *http.Request, _ domain.Account) {
	id := strings.TrimPrefix(r.URL.Path, "/admin/content/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var upd app.ContentUpdate
		if !decodeJSON(w, r, &upd) {
			return
		}
		item, err := s.app.UpdateContent(id, upd)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := s.app.DeleteContent(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type adminCharacterRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tagline   string `json:"tagline"`
	Persona   string `json:"persona"`
	AvatarURL string `json:"avatarUrl"`
}

func (s *Server) handleAdminCharacters(w http.ResponseWriter, r *http.Request, _ domain.Account) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req adminCharacterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	saved, err := s.app.SaveCharacter(domain.Character{
		ID:        req.ID,
		Name:      req.Name,
		Tagline:   req.Tagline,
		Persona:   req.Persona,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}
