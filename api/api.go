// Package api exposes the escrow ledger over HTTP with chi.
//
// Authentication happens upstream: the caller's principal arrives in the
// X-Principal header and is trusted as-is. Amounts travel as integers in the
// smallest unit; responses add a decimal display rendering.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/transfer"
)

// PrincipalHeader carries the authenticated caller.
const PrincipalHeader = "X-Principal"

type ctxKey struct{}

// Handler serves the escrow HTTP API.
type Handler struct {
	ledger  *escrow.Ledger
	book    *transfer.Book
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithBook enables the balance endpoints for the bundled in-memory rail.
func WithBook(b *transfer.Book) Option {
	return func(h *Handler) { h.book = b }
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New creates a Handler for l.
func New(l *escrow.Ledger, opts ...Option) *Handler {
	h := &Handler{
		ledger: l,
		logger: l.Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/invoices", func(r chi.Router) {
		r.With(requirePrincipal).Post("/", h.createInvoice)
		r.Get("/by-number/{number}", h.getInvoiceByNumber)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getInvoice)
			r.Get("/events", h.listEvents)
			r.Group(func(r chi.Router) {
				r.Use(requirePrincipal)
				r.Post("/payments", h.payInvoice)
				r.Post("/confirm", h.confirmReceipt)
				r.Post("/cancel", h.cancelInvoice)
			})
		})
	})

	r.Route("/principals/{principal}", func(r chi.Router) {
		r.Get("/supplier-invoices", h.listSupplierInvoices)
		r.Get("/buyer-invoices", h.listBuyerInvoices)
		r.Get("/stats", h.stats)
	})
	r.Get("/stats/count", h.count)

	r.Route("/balances/{principal}", func(r chi.Router) {
		r.Get("/", h.balance)
		r.With(requirePrincipal).Post("/credit", h.credit)
	})

	return r
}

// requirePrincipal rejects requests without a principal header.
func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.Header.Get(PrincipalHeader)
		if p == "" {
			writeError(w, http.StatusUnauthorized, "missing "+PrincipalHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, p)))
	})
}

func principal(r *http.Request) string {
	p, _ := r.Context().Value(ctxKey{}).(string)
	return p
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"caller", r.Header.Get(PrincipalHeader),
		)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
