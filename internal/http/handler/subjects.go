package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"remind/internal/subject"
)

type SubjectHandler struct {
	Svc *subject.Service
}

type subjectDTO struct {
	ID          uint64    `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Location    string    `json:"location"`
	DateOfEvent string    `json:"dateOfEvent"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toSubjectDTO(s *subject.Subject) subjectDTO {
	return subjectDTO{
		ID:          s.ID,
		FirstName:   s.FirstName,
		LastName:    s.LastName,
		Location:    s.Location,
		DateOfEvent: s.DateOfEvent.UTC().Format(time.DateOnly),
		Phone:       s.Phone,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

type subjectReq struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	Location    *string `json:"location"`
	DateOfEvent *string `json:"dateOfEvent"` // YYYY-MM-DD or RFC3339
	Phone       *string `json:"phone"`
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (h *SubjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req subjectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	in := subject.Input{
		FirstName: deref(req.FirstName),
		LastName:  deref(req.LastName),
		Location:  deref(req.Location),
		Phone:     deref(req.Phone),
	}
	if req.DateOfEvent != nil {
		t, err := parseDate(*req.DateOfEvent)
		if err != nil {
			http.Error(w, "invalid dateOfEvent", http.StatusBadRequest)
			return
		}
		in.DateOfEvent = t
	}

	sub, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		subjectError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubjectDTO(sub))
}

func (h *SubjectHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.Svc.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]subjectDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toSubjectDTO(&rows[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SubjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	sub, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		subjectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(sub))
}

func (h *SubjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req subjectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	p := subject.Patch{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Location:  req.Location,
		Phone:     req.Phone,
	}
	if req.DateOfEvent != nil {
		t, err := parseDate(*req.DateOfEvent)
		if err != nil {
			http.Error(w, "invalid dateOfEvent", http.StatusBadRequest)
			return
		}
		p.DateOfEvent = &t
	}

	sub, err := h.Svc.Update(r.Context(), id, p)
	if err != nil {
		subjectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(sub))
}

func (h *SubjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.Svc.Delete(r.Context(), id); err != nil {
		subjectError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func subjectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subject.ErrInvalid):
		http.Error(w, "invalid input", http.StatusBadRequest)
	case errors.Is(err, subject.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
