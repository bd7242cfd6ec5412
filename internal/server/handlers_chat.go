package server

import (
	"net/http"
	"strconv"
	"strings"

	"musegate/pkg/domain"
)

type sendMessageRequest struct {
	CharacterID string `json:"characterId"`
	Content     string `json:"content"`
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request, _ domain.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	characters, err := s.app.ListCharacters()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": characters,
		"count": len(characters),
	})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, account domain.Account) {
	switch r.Method {
	case http.MethodGet:
		conversations, err := s.app.ListConversations(account.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": conversations,
			"count": len(conversations),
		})
	case http.MethodPost:
		var req sendMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.CharacterID == "" || strings.TrimSpace(req.Content) == "" {
			writeError(w, http.StatusBadRequest, "characterId and content are required")
			return
		}
		reply, err := s.app.SendMessage(r.Context(), account.ID, req.CharacterID, req.Content)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	default:
		methodNotAllowed(w)
	}
}

// handleChatByID serves /chats/{id}/messages.
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, account domain.Account) {
	rest := strings.TrimPrefix(r.URL.Path, "/chats/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "messages" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}
	messages, err := s.app.ListMessages(account.ID, id, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": messages,
		"count": len(messages),
	})
}
