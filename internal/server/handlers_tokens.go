package server

import (
	"net/http"
	"strconv"

	"musegate/pkg/domain"
)

type createOrderRequest struct {
	PackageID string `json:"packageId"`
}

type captureRequest struct {
	PackageID string `json:"packageId"`
	OrderID   string `json:"orderId"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, account domain.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	balance, err := s.app.Tokens().Balance(account.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"tokens": balance})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request, account domain.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}
	entries, err := s.app.Tokens().History(account.ID, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	packages := s.app.Packages()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": packages,
		"count": len(packages),
	})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request, account domain.Account) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PackageID == "" {
		writeError(w, http.StatusBadRequest, "packageId is required")
		return
	}
	order, err := s.app.CreatePurchaseOrder(r.Context(), account.ID, req.PackageID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request, account domain.Account) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req captureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PackageID == "" || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "packageId and orderId are required")
		return
	}
	result, err := s.app.CapturePurchase(r.Context(), account.ID, req.PackageID, req.OrderID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
