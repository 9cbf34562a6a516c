package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"remind/internal/auth"
)

type AuthHandler struct {
	Accounts *auth.Accounts
	JWT      *auth.JWT
}

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	op, err := h.Accounts.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrEmailTaken):
		http.Error(w, "email already used", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.token(w, http.StatusCreated, op.ID)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	op, err := h.Accounts.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	case err != nil:
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.token(w, http.StatusOK, op.ID)
}

func (h *AuthHandler) token(w http.ResponseWriter, status int, operatorID uint64) {
	token, err := h.JWT.Sign(operatorID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, map[string]any{"token": token})
}
