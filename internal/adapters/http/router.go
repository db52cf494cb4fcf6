package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/observability/metrics"
)

const maxRequestBodyBytes = 64 << 10

var corsAllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type", "x-client-version"}

type Options struct {
	Service         string
	Logger          *slog.Logger
	Identity        ports.IdentityResolver
	RequireIdentity bool
	RateLimiter     ports.RateLimiter
	Metrics         *metrics.HTTPServerMetrics
	// MCP, when set, is mounted at /mcp behind the same middleware.
	MCP http.Handler
}

type Router struct {
	answerer ports.QuestionAnswerer
	opts     Options
	validate *validator.Validate
}

func NewRouter(answerer ports.QuestionAnswerer, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Service == "" {
		opts.Service = "api"
	}
	return &Router{
		answerer: answerer,
		opts:     opts,
		validate: newValidator(),
	}
}

type qaRequest struct {
	Question string `json:"question" validate:"required,trimmedmin=2"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// trimmedmin counts runes after trimming surrounding whitespace.
	_ = v.RegisterValidation("trimmedmin", func(fl validator.FieldLevel) bool {
		var minRunes int
		if _, err := fmt.Sscan(fl.Param(), &minRunes); err != nil {
			return false
		}
		return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= minRunes
	})
	return v
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	if rt.opts.Metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.opts.Metrics.Middleware(rt.opts.Service, routePattern, next)
		})
	}
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.opts.Logger))
	r.Use(recoverMiddleware(rt.opts.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: corsAllowedHeaders,
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", rt.healthz)
	if rt.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		var onReject func()
		if rt.opts.Metrics != nil {
			onReject = func() { rt.opts.Metrics.RecordRateLimited(rt.opts.Service) }
		}
		r.Use(identityMiddleware(rt.opts.Identity, rt.opts.RequireIdentity))
		r.Use(rateLimitMiddleware(rt.opts.RateLimiter, rt.opts.Logger, onReject))

		r.Options("/v1/qa", rt.preflight)
		r.Post("/v1/qa", rt.ask)
		if rt.opts.MCP != nil {
			r.Handle("/mcp", rt.opts.MCP)
		}
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, domain.CodeBadRequest, "POST only")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, domain.CodeBadRequest, "endpoint not found")
	})

	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", strings.Join(corsAllowedHeaders, ", "))
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQARequest(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, domain.CodeInternal, err.Error())
		return
	}
	if err := rt.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, domain.CodeBadRequest, validationMessage(err))
		return
	}

	resp, err := rt.answerer.Ask(r.Context(), domain.QARequest{
		Question:  req.Question,
		RequestID: requestIDFromContext(r.Context()),
		CallerID:  callerIDFromContext(r.Context()),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeQARequest fails only when the body is not JSON at all. A question
// that is missing or not a string is left empty for validation to reject.
func decodeQARequest(body io.Reader) (qaRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return qaRequest{}, fmt.Errorf("decode request body: %w", err)
	}
	var req qaRequest
	if field, ok := raw["question"]; ok {
		_ = json.Unmarshal(field, &req.Question)
	}
	return req, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Tag() {
		case "required":
			return "question is required"
		case "trimmedmin":
			return "question is too short"
		}
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
