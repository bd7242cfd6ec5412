package server

import (
	"net/http"
	"strconv"
	"strings"

	"musegate/pkg/domain"
)

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request, account domain.Account) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListContent(r.Context(), account.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	case http.MethodPost:
		s.handleUpload(w, r, account)
	default:
		methodNotAllowed(w)
	}
}

// handleUpload accepts a multipart form with an image file plus title,
// unlockPrice, and blurred fields.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, account domain.Account) {
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "only image uploads are accepted")
		return
	}
	var unlockPrice int64
	if raw := r.FormValue("unlockPrice"); raw != "" {
		unlockPrice, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || unlockPrice < 0 {
			writeError(w, http.StatusBadRequest, "unlockPrice must be a non-negative integer")
			return
		}
	}
	blurred := r.FormValue("blurred") == "true"
	item, err := s.app.UploadContent(r.Context(), account.ID, r.FormValue("title"),
		file, header.Size, contentType, unlockPrice, blurred)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleContentByID dispatches /content/{id}, /content/{id}/unlock, and
// /content/{id}/image.
func (s *Server) handleContentByID(w http.ResponseWriter, r *http.Request, account domain.Account) {
	rest := strings.TrimPrefix(r.URL.Path, "/content/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		item, err := s.app.GetContent(r.Context(), account.ID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case "unlock":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		result, err := s.app.Unlock(account.ID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "image":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		url, err := s.app.ContentURL(r.Context(), account.ID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUnlocks(w http.ResponseWriter, r *http.Request, account domain.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	records, err := s.app.ListUnlocks(account.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": records,
		"count": len(records),
	})
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, account domain.Account) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	item, err := s.app.GenerateImage(r.Context(), account.ID, req.Prompt)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
