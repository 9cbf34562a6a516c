package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"remind/internal/notification"
	"remind/internal/recurrence"
	"remind/internal/subject"
)

type NotificationHandler struct {
	Svc      *notification.Service
	Subjects *subject.Service
}

type reminderDTO struct {
	ID        uint64              `json:"id"`
	SubjectID uint64              `json:"subjectId"`
	Kind      notification.Kind   `json:"kind"`
	Status    notification.Status `json:"status"`
	NextRunAt time.Time           `json:"nextRunAt"`
	Audit     notification.Audit  `json:"audit"`
	Version   uint64              `json:"version"`
}

func toReminderDTO(r *notification.Reminder) reminderDTO {
	return reminderDTO{
		ID:        r.ID,
		SubjectID: r.SubjectID,
		Kind:      r.Kind,
		Status:    r.Status,
		NextRunAt: r.NextRunAt,
		Audit:     r.Audit,
		Version:   r.Version,
	}
}

type createReminderReq struct {
	SubjectID uint64     `json:"subjectId"`
	DueAt     *time.Time `json:"dueAt"` // defaults to the subject's next anniversary
}

func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createReminderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.SubjectID == 0 {
		http.Error(w, "subjectId required", http.StatusBadRequest)
		return
	}

	sub, err := h.Subjects.Get(r.Context(), req.SubjectID)
	if errors.Is(err, subject.ErrNotFound) {
		http.Error(w, "subject not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	due := recurrence.Next(sub.DateOfEvent, h.Svc.Now())
	if req.DueAt != nil {
		due = *req.DueAt
	}

	rem, err := h.Svc.CreateSchedule(r.Context(), sub.ID, due)
	if errors.Is(err, notification.ErrExists) {
		http.Error(w, "reminder already exists", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toReminderDTO(rem))
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	rem, err := h.Svc.Get(r.Context(), id)
	if errors.Is(err, notification.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toReminderDTO(rem))
}
