/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging (zerolog)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/members/*      Member lifecycle, dependents, invoices, events
  /api/dependents/*   Dependent updates
  /api/claims/*       Medical assistance claims
  /api/invoices/*     Payment recording
  /api/committee/*    Roles, seats, tenure review
  /api/meetings/*     Meetings and polls
  /api/jobs/*         Scheduled jobs
  /api/scenarios/*    Demo scenarios
  /metrics            Prometheus
  /healthz            Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	Logger      zerolog.Logger
	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor", "X-Actor-Kind"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.RegisterMember)
			r.Post("/fee-preview", h.PreviewFees)
			r.Get("/{id}", h.GetMember)
			r.Delete("/{id}", h.DeleteMember)
			r.Post("/{id}/approve", h.ApproveMember)
			r.Post("/{id}/suspend", h.SuspendMember)
			r.Post("/{id}/reinstate", h.ReinstateMember)
			r.Post("/{id}/terminate", h.TerminateMember)
			r.Post("/{id}/deceased", h.MarkDeceased)
			r.Post("/{id}/refresh-payment-state", h.RefreshPaymentState)
			r.Get("/{id}/invoices", h.ListMemberInvoices)
			r.Post("/{id}/invoices/annual", h.CreateAnnualInvoice)
			r.Get("/{id}/events", h.ListMemberEvents)
			r.Get("/{id}/dependents", h.ListDependents)
			r.Post("/{id}/dependents", h.AddDependent)
		})

		// Dependent routes
		r.Route("/dependents", func(r chi.Router) {
			r.Put("/{id}", h.UpdateDependent)
			r.Delete("/{id}", h.RemoveDependent)
		})

		// Claim routes
		r.Route("/claims", func(r chi.Router) {
			r.Get("/", h.ListClaims)
			r.Post("/", h.CreateClaim)
			r.Get("/{id}", h.GetClaim)
			r.Put("/{id}", h.UpdateClaim)
			r.Post("/{id}/approve", h.ApproveClaim)
			r.Post("/{id}/reject", h.RejectClaim)
		})

		r.Post("/invoices/payment", h.RecordPayment)

		// Committee routes
		r.Route("/committee", func(r chi.Router) {
			r.Get("/roles", h.ListRoles)
			r.Post("/roles", h.CreateRole)
			r.Get("/memberships", h.ListCommitteeMemberships)
			r.Post("/memberships", h.AssignCommitteeMember)
			r.Post("/memberships/{id}/end", h.EndCommitteeMembership)
			r.Post("/tenure-review", h.RunTenureReview)
		})

		// Meeting routes
		r.Route("/meetings", func(r chi.Router) {
			r.Get("/", h.ListMeetings)
			r.Post("/", h.ScheduleMeeting)
			r.Get("/{id}", h.GetMeeting)
			r.Post("/{id}/confirm", h.ConfirmMeeting)
			r.Post("/{id}/hold", h.HoldMeeting)
			r.Post("/{id}/cancel", h.CancelMeeting)
			r.Post("/{id}/attendees", h.AddAttendee)
			r.Post("/{id}/polls", h.AddPoll)
			r.Post("/{id}/polls/{pollID}/vote", h.Vote)
			r.Post("/{id}/polls/{pollID}/close", h.ClosePoll)
		})

		// Job routes
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Get("/runs", h.ListJobRuns)
			r.Post("/{name}/run", h.RunJob)
		})

		r.Get("/settings", h.GetSettings)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs one line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("took", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
