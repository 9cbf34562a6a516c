package http

import (
	"net/http"

	"remind/internal/auth"
	"remind/internal/config"
	"remind/internal/http/handler"
	mw "remind/internal/http/middleware"
	"remind/internal/notification"
	"remind/internal/subject"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Deps struct {
	Config        config.Config
	DB            *gorm.DB
	JWT           *auth.JWT
	Subjects      *subject.Service
	Notifications *notification.Service
	Scheduler     handler.Trigger
	Log           zerolog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger(d.Log))
	r.Use(chimw.Recoverer)

	if len(d.Config.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(d.Config.CORSAllowedOrigins, d.Config.CORSAllowCredentials))
	}

	health := &handler.HealthHandler{DB: d.DB}
	r.Get("/health", health.Health)

	ah := &handler.AuthHandler{Accounts: &auth.Accounts{DB: d.DB}, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	sh := &handler.SubjectHandler{Svc: d.Subjects}
	nh := &handler.NotificationHandler{Svc: d.Notifications, Subjects: d.Subjects}
	th := &handler.SchedulerHandler{Scheduler: d.Scheduler}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Route("/subjects", func(r chi.Router) {
			r.Post("/", sh.Create)
			r.Get("/", sh.List)
			r.Get("/{id}", sh.Get)
			r.Put("/{id}", sh.Update)
			r.Delete("/{id}", sh.Delete)
		})

		r.Post("/notifications", nh.Create)
		r.Get("/notifications/{id}", nh.Get)

		r.Post("/scheduler/trigger", th.Trigger)
	})

	return r
}
