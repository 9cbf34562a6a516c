package handler

import (
	"context"
	"net/http"

	"remind/internal/scheduler"
)

type Trigger interface {
	Trigger(ctx context.Context) scheduler.TickReport
}

type SchedulerHandler struct {
	Scheduler Trigger
}

// Trigger runs one due scan synchronously.
func (h *SchedulerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	rep := h.Scheduler.Trigger(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "scheduler triggered",
		"report":  rep,
	})
}
