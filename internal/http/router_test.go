package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"remind/internal/auth"
	"remind/internal/config"
	"remind/internal/db/dbtest"
	httpx "remind/internal/http"
	"remind/internal/jobs"
	"remind/internal/notification"
	"remind/internal/scheduler"
	"remind/internal/subject"

	"github.com/rs/zerolog"
)

type api struct {
	t     *testing.T
	srv   *httptest.Server
	token string
	store *notification.Store
	queue *jobs.Repo
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gdb := dbtest.Open(t, &auth.Operator{}, &subject.Subject{}, &notification.Reminder{}, &jobs.Job{})
	log := zerolog.Nop()

	store := &notification.Store{DB: gdb}
	notifications := notification.NewService(store, log)
	queue := jobs.NewRepo(gdb, jobs.DefaultOptions())

	h := httpx.NewRouter(httpx.Deps{
		Config:        config.Config{},
		DB:            gdb,
		JWT:           auth.NewJWT("test-secret"),
		Subjects:      subject.NewService(gdb, notifications, log),
		Notifications: notifications,
		Scheduler:     scheduler.New(store, queue, log),
		Log:           log,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, store: store, queue: queue}
}

func (a *api) do(method, path string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		a.t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			a.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (a *api) login() {
	a.t.Helper()
	creds := map[string]string{"email": "ops@example.com", "password": "s3cret-pass"}
	var out struct{ Token string }
	if code := a.do(http.MethodPost, "/auth/register", creds, &out); code != http.StatusCreated {
		a.t.Fatalf("register = %d", code)
	}
	if code := a.do(http.MethodPost, "/auth/login", creds, &out); code != http.StatusOK || out.Token == "" {
		a.t.Fatalf("login = %d", code)
	}
	a.token = out.Token
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	var out map[string]string
	if code := a.do(http.MethodGet, "/health", nil, &out); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	if out["status"] != "ok" || out["database"] != "connected" {
		t.Fatalf("health body = %v", out)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	a := newAPI(t)
	for _, path := range []string{"/subjects", "/notifications/1"} {
		if code := a.do(http.MethodGet, path, nil, nil); code != http.StatusUnauthorized {
			t.Fatalf("GET %s = %d", path, code)
		}
	}
	if code := a.do(http.MethodPost, "/scheduler/trigger", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("trigger = %d", code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	a := newAPI(t)
	a.login()
	a.token = ""
	code := a.do(http.MethodPost, "/auth/login", map[string]string{"email": "ops@example.com", "password": "nope-nope"}, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("login = %d", code)
	}
	code = a.do(http.MethodPost, "/auth/register", map[string]string{"email": "ops@example.com", "password": "s3cret-pass"}, nil)
	if code != http.StatusConflict {
		t.Fatalf("duplicate register = %d", code)
	}
}

func TestSubjectLifecycle(t *testing.T) {
	a := newAPI(t)
	a.login()
	ctx := context.Background()

	var sub struct {
		ID          uint64 `json:"id"`
		FirstName   string `json:"firstName"`
		DateOfEvent string `json:"dateOfEvent"`
	}
	code := a.do(http.MethodPost, "/subjects", map[string]string{
		"firstName":   "John",
		"lastName":    "Doe",
		"location":    "Asia/Jakarta",
		"dateOfEvent": "1990-08-20",
	}, &sub)
	if code != http.StatusCreated || sub.ID == 0 || sub.DateOfEvent != "1990-08-20" {
		t.Fatalf("create = %d %+v", code, sub)
	}

	r, err := a.store.GetBySubject(ctx, sub.ID, notification.KindAnniversary)
	if err != nil {
		t.Fatalf("reminder not armed: %v", err)
	}
	if m, d := r.NextRunAt.Month(), r.NextRunAt.Day(); m != time.August || d != 20 || r.Status != notification.StatusPending {
		t.Fatalf("reminder = %+v", r)
	}

	var rem struct {
		ID     uint64 `json:"id"`
		Status string `json:"status"`
	}
	if code := a.do(http.MethodGet, "/notifications/"+itoa(r.ID), nil, &rem); code != http.StatusOK || rem.Status != "PENDING" {
		t.Fatalf("get reminder = %d %+v", code, rem)
	}
	if code := a.do(http.MethodPost, "/notifications", map[string]any{"subjectId": sub.ID}, nil); code != http.StatusConflict {
		t.Fatalf("second reminder = %d", code)
	}

	var list []map[string]any
	if code := a.do(http.MethodGet, "/subjects", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list = %d %v", code, list)
	}

	code = a.do(http.MethodPut, "/subjects/"+itoa(sub.ID), map[string]string{"dateOfEvent": "1991-01-02"}, &sub)
	if code != http.StatusOK || sub.DateOfEvent != "1991-01-02" || sub.FirstName != "John" {
		t.Fatalf("update = %d %+v", code, sub)
	}
	r, _ = a.store.GetBySubject(ctx, sub.ID, notification.KindAnniversary)
	if r.NextRunAt.Month() != time.January || r.NextRunAt.Day() != 2 {
		t.Fatalf("reminder not moved: %s", r.NextRunAt)
	}

	if code := a.do(http.MethodDelete, "/subjects/"+itoa(sub.ID), nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	if code := a.do(http.MethodGet, "/subjects/"+itoa(sub.ID), nil, nil); code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", code)
	}
	if code := a.do(http.MethodGet, "/notifications/"+itoa(r.ID), nil, nil); code != http.StatusNotFound {
		t.Fatalf("reminder of deleted subject = %d", code)
	}
}

func TestSubjectValidation(t *testing.T) {
	a := newAPI(t)
	a.login()

	if code := a.do(http.MethodPost, "/subjects", map[string]string{"firstName": "John"}, nil); code != http.StatusBadRequest {
		t.Fatalf("missing fields = %d", code)
	}
	body := map[string]string{"firstName": "J", "lastName": "D", "location": "X", "dateOfEvent": "20/08/1990"}
	if code := a.do(http.MethodPost, "/subjects", body, nil); code != http.StatusBadRequest {
		t.Fatalf("bad date = %d", code)
	}
	if code := a.do(http.MethodGet, "/subjects/abc", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", code)
	}
	if code := a.do(http.MethodPost, "/notifications", map[string]any{"subjectId": 999}, nil); code != http.StatusNotFound {
		t.Fatalf("reminder for unknown subject = %d", code)
	}
}

func TestTriggerRunsTick(t *testing.T) {
	a := newAPI(t)
	a.login()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	r := &notification.Reminder{SubjectID: 77, Kind: notification.KindAnniversary, Status: notification.StatusPending, NextRunAt: past}
	if err := a.store.Create(ctx, r); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var out struct {
		Message string               `json:"message"`
		Report  scheduler.TickReport `json:"report"`
	}
	if code := a.do(http.MethodPost, "/scheduler/trigger", nil, &out); code != http.StatusOK {
		t.Fatalf("trigger = %d", code)
	}
	if out.Message == "" || out.Report.Found != 1 || out.Report.Enqueued != 1 {
		t.Fatalf("trigger body = %+v", out)
	}
	if n, _ := a.queue.Count(ctx, jobs.StatusPending); n != 1 {
		t.Fatalf("pending jobs = %d", n)
	}
}

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }
