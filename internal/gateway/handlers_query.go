package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kaiwahq/kaiwa/internal/corpus"
	"github.com/kaiwahq/kaiwa/internal/query"
	"github.com/kaiwahq/kaiwa/internal/usage"
)

// tracer is a no-op unless an SDK tracer provider is installed
// (builds with -tags otel and telemetry enabled).
var tracer = otel.Tracer("github.com/kaiwahq/kaiwa/internal/gateway")

// QueryHandler serves the read-only corpus endpoints: projects,
// conversations and the usage report.
type QueryHandler struct {
	catalog *corpus.Catalog
	engine  *query.Engine
	usage   *usage.Engine
	token   string
}

// NewQueryHandler creates a handler over the corpus services.
func NewQueryHandler(catalog *corpus.Catalog, engine *query.Engine, usageEngine *usage.Engine, token string) *QueryHandler {
	return &QueryHandler{catalog: catalog, engine: engine, usage: usageEngine, token: token}
}

// RegisterRoutes registers the corpus routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/projects", h.auth(h.handleProjects))
	mux.HandleFunc("GET /api/conversations", h.auth(h.handleConversations))
	mux.HandleFunc("GET /api/conversations/stats", h.auth(h.handleConversationStats))
	mux.HandleFunc("GET /api/usage", h.auth(h.handleUsage))
}

func (h *QueryHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return requireAuth(h.token, next)
}

func (h *QueryHandler) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.catalog.List()
	if err != nil {
		slog.Error("projects.list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	if projects == nil {
		projects = []corpus.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (h *QueryHandler) handleConversations(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := tracer.Start(r.Context(), "query.conversations", trace.WithAttributes(
		attribute.Int("query.limit", params.Limit),
		attribute.Int("query.offset", params.Offset),
		attribute.Bool("query.keyword_set", params.Keyword != ""),
	))
	defer span.End()

	page, err := h.engine.GetConversations(ctx, params)
	if err != nil {
		if errors.Is(err, query.ErrInvalidParams) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("query.conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	slog.Debug("query.conversations",
		"projects", len(params.Projects),
		"keyword", params.Keyword,
		"threads", page.ActualThreads,
		"messages", page.ActualMessages)
	writeJSON(w, http.StatusOK, page)
}

// handleConversationStats returns the whole-corpus summary. The scan
// path collects everything regardless of page size, so a one-thread
// page carries exact totals.
func (h *QueryHandler) handleConversationStats(w http.ResponseWriter, r *http.Request) {
	params := query.DefaultParams()
	params.Limit = 1

	page, err := h.engine.ScanConversations(r.Context(), params)
	if err != nil {
		slog.Error("query.stats", "error", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, page.Stats)
}

func (h *QueryHandler) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "usage.report")
	defer span.End()

	// The report call never fails; errors ride inside the envelope.
	writeJSON(w, http.StatusOK, h.usage.Report(ctx))
}

// parseQueryParams reads the conversation query parameters. Defaults:
// newest first, fifteen threads, related threads included.
func parseQueryParams(r *http.Request) (query.Params, error) {
	q := r.URL.Query()
	p := query.DefaultParams()
	p.Projects = q["project"]
	p.StartDate = q.Get("start_date")
	p.EndDate = q.Get("end_date")
	p.Keyword = q.Get("keyword")

	if v := q.Get("show_related_threads"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, errors.New("show_related_threads must be a boolean")
		}
		p.ShowRelatedThreads = b
	}
	if v := q.Get("sort_order"); v != "" {
		p.SortOrder = v
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("offset must be an integer")
		}
		p.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("limit must be an integer")
		}
		p.Limit = n
	}
	return p, nil
}
