package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendledger/core/events"
	"lendledger/gateway/middleware"
	"lendledger/native/bank"
	"lendledger/native/lending"
	"lendledger/services/lendingd/journal"
)

// Rate limit keys understood by New.
const (
	RateLimitLending = "lending"
	RateLimitBank    = "bank"
	RateLimitEvents  = "events"
)

type Config struct {
	ServiceName    string
	Lending        *lending.Sequencer
	Tokens         []*bank.Token
	Feed           *events.Feed
	Journal        *journal.Journal
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	RequestTimeout time.Duration
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Lending == nil {
		return nil, errors.New("routes: lending sequencer required")
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, nil)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	service := cfg.ServiceName
	if service == "" {
		service = "lendingd"
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	obs := cfg.Observability
	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return passthrough
		}
		return cfg.RateLimiter.Middleware(key)
	}
	observe := func(route string) func(http.Handler) http.Handler {
		if obs == nil {
			return passthrough
		}
		return obs.Middleware(route)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	lr := &lendingRoutes{seq: cfg.Lending}
	r.Route("/v1/lending", func(sr chi.Router) {
		sr.Use(observe("lending"), limit(RateLimitLending), chimw.Timeout(timeout))
		lr.mountPublic(sr)
		sr.Group(func(w chi.Router) {
			w.Use(auth.Middleware(middleware.ScopeLendingWrite))
			lr.mountWrite(w)
		})
		sr.Group(func(a chi.Router) {
			a.Use(auth.Middleware(middleware.ScopeLendingAdmin))
			lr.mountAdmin(a)
		})
	})

	br := newBankRoutes(cfg.Tokens)
	r.Route("/v1/bank", func(sr chi.Router) {
		sr.Use(observe("bank"), limit(RateLimitBank), chimw.Timeout(timeout))
		br.mountPublic(sr)
		sr.Group(func(w chi.Router) {
			w.Use(auth.Middleware(middleware.ScopeBankWrite))
			br.mountWrite(w)
		})
		sr.Group(func(m chi.Router) {
			m.Use(auth.Middleware(middleware.ScopeBankMint))
			br.mountMint(m)
		})
	})

	er := &eventRoutes{feed: cfg.Feed, journal: cfg.Journal}
	r.Route("/v1/events", func(sr chi.Router) {
		sr.Use(observe("events"), limit(RateLimitEvents))
		er.mount(sr)
	})

	return otelhttp.NewHandler(r, service), nil
}

func passthrough(next http.Handler) http.Handler { return next }
