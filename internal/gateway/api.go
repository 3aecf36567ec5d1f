// ABOUTME: HTTP API handlers for package registration, tool lookup, execution and admin jobs
// ABOUTME: Request/response types and error mapping from executor and store failures

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolshed/internal/catalog"
	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/health"
	"github.com/2389/toolshed/internal/schema"
	"github.com/2389/toolshed/internal/store"
)

// MaxRequestBodySize caps API request bodies. Package readmes dominate it.
const MaxRequestBodySize = 4 << 20

const (
	// statusClientClosedRequest is nginx's code for a caller that went away.
	statusClientClosedRequest = 499

	defaultListLimit = 20
	maxListLimit     = 100
)

// ToolResponse is the API view of a tool.
type ToolResponse struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Package          string             `json:"package"`
	Export           string             `json:"export"`
	Description      string             `json:"description,omitempty"`
	InputSchema      json.RawMessage    `json:"inputSchema,omitempty"`
	SchemaSource     store.SchemaSource `json:"schemaSource"`
	NeedsReview      bool               `json:"needsReview"`
	ImportHealth     store.HealthState  `json:"importHealth"`
	ExecutionHealth  store.HealthState  `json:"executionHealth"`
	LastHealthCheck  *time.Time         `json:"lastHealthCheck,omitempty"`
	HealthCheckError *string            `json:"healthCheckError,omitempty"`
	QualityScore     float64            `json:"qualityScore"`
}

func toolResponse(t *store.Tool) ToolResponse {
	return ToolResponse{
		ID:               t.ID,
		Name:             t.QualifiedName(),
		Package:          t.PackageName,
		Export:           t.ExportName,
		Description:      t.Description,
		InputSchema:      t.InputSchema,
		SchemaSource:     t.SchemaSource,
		NeedsReview:      t.NeedsReview,
		ImportHealth:     t.ImportHealth,
		ExecutionHealth:  t.ExecutionHealth,
		LastHealthCheck:  t.LastHealthCheck,
		HealthCheckError: t.HealthCheckError,
		QualityScore:     t.QualityScore,
	}
}

// ListToolsResponse is returned by GET /api/tools.
type ListToolsResponse struct {
	Tools []ToolResponse `json:"tools"`
}

// VerifyExecutorRequest is the body of POST /api/executors/verify.
type VerifyExecutorRequest struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey,omitempty"`
}

// ExecuteToolRequest is the body of POST /api/tools/execute.
type ExecuteToolRequest struct {
	Package  string            `json:"package"`
	Export   string            `json:"export"`
	Version  string            `json:"version,omitempty"`
	Args     map[string]any    `json:"args"`
	Env      map[string]string `json:"env,omitempty"`
	Executor json.RawMessage   `json:"executor,omitempty"`
}

// ExecuteToolResponse is a successful tool run.
type ExecuteToolResponse struct {
	Output     json.RawMessage `json:"output"`
	DurationMs int64           `json:"durationMs"`
}

// ExecuteErrorResponse describes a failed tool run.
type ExecuteErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Executor string `json:"executor,omitempty"`
}

// CollectionRequest is the body of PUT /api/collections/{slug}.
type CollectionRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Public      bool            `json:"public"`
	Executor    json.RawMessage `json:"executor,omitempty"`
	Tools       []string        `json:"tools"` // qualified "package/export" names
}

// ExecutorView is a collection's executor with the API key withheld.
type ExecutorView struct {
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	HasAPIKey bool   `json:"hasApiKey,omitempty"`
}

// CollectionResponse is the API view of a collection.
type CollectionResponse struct {
	Slug        string       `json:"slug"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Public      bool         `json:"public"`
	Executor    ExecutorView `json:"executor"`
	Tools       []string     `json:"tools"`
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a size-limited JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// splitToolName splits "package/export" at the last slash so scoped
// packages ("@scope/name/export") keep their scope.
func splitToolName(name string) (pkg, export string, ok bool) {
	i := strings.LastIndex(name, "/")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// handleVerifyExecutor runs the verification handshake. A failed
// verification is still a 200 with valid=false.
func (g *Gateway) handleVerifyExecutor(w http.ResponseWriter, r *http.Request) {
	var req VerifyExecutorRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, g.verifier.Verify(r.Context(), req.URL, req.APIKey))
}

// handleRegisterPackage indexes a package from its metadata and exports.
func (g *Gateway) handleRegisterPackage(w http.ResponseWriter, r *http.Request) {
	var meta catalog.PackageMetadata
	if err := decodeBody(w, r, &meta); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := g.indexer.Index(r.Context(), &meta)
	if errors.Is(err, catalog.ErrInvalidPackage) {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("indexing package failed", "package", meta.Name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to index package")
		return
	}

	if _, err := g.rescorer.RescoreAll(r.Context()); err != nil {
		g.logger.Warn("rescoring after registration failed", "package", meta.Name, "error", err)
	}
	g.sendJSON(w, http.StatusOK, report)
}

// handleListTools searches tools, best quality first.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	tools, err := g.search.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		g.logger.Error("searching tools failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to search tools")
		return
	}

	resp := ListToolsResponse{Tools: make([]ToolResponse, 0, len(tools))}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, toolResponse(t))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleGetTool returns one tool addressed as /api/tools/{package}/{export}.
func (g *Gateway) handleGetTool(w http.ResponseWriter, r *http.Request) {
	pkg, export, ok := splitToolName(r.PathValue("name"))
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "expected /api/tools/{package}/{export}")
		return
	}
	tool, err := g.store.GetTool(r.Context(), pkg, export)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "tool not found")
		return
	}
	if err != nil {
		g.logger.Error("getting tool failed", "package", pkg, "export", export, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to get tool")
		return
	}
	g.sendJSON(w, http.StatusOK, toolResponse(tool))
}

// handleExecuteTool runs a registered tool on the default sandbox or a
// custom executor. Env is forwarded unchanged and never logged.
func (g *Gateway) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req ExecuteToolRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Package == "" || req.Export == "" {
		g.sendJSONError(w, http.StatusBadRequest, "package and export are required")
		return
	}

	cfg, err := executor.ParseConfig(req.Executor)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	tool, err := g.store.GetTool(r.Context(), req.Package, req.Export)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "tool not found")
		return
	}
	if err != nil {
		g.logger.Error("getting tool failed", "package", req.Package, "export", req.Export, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to get tool")
		return
	}
	if err := schema.Validate(tool.InputSchema, req.Args); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	version := req.Version
	if version == "" {
		pkg, err := g.store.GetPackage(r.Context(), req.Package)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("getting package failed", "package", req.Package, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to get package")
			return
		}
		if pkg != nil {
			version = pkg.Version
		}
	}

	requestID := uuid.NewString()
	result, err := g.router.Route(r.Context(), cfg, executor.ExecuteRequest{
		PackageName: req.Package,
		ExportName:  req.Export,
		Version:     version,
		Args:        req.Args,
		Env:         req.Env,
	})
	if err != nil {
		g.logger.Info("tool execution failed",
			"request_id", requestID,
			"tool", tool.QualifiedName(),
			"executor", executor.TypeName(cfg),
			"error", err,
		)
		status, body := executeError(cfg, err)
		g.sendJSON(w, status, body)
		return
	}

	g.logger.Debug("tool executed",
		"request_id", requestID,
		"tool", tool.QualifiedName(),
		"executor", executor.TypeName(cfg),
		"duration_ms", result.Duration.Milliseconds(),
	)
	g.sendJSON(w, http.StatusOK, ExecuteToolResponse{
		Output:     result.Output,
		DurationMs: result.Duration.Milliseconds(),
	})
}

// executeError maps a routing failure onto an HTTP status and body.
func executeError(cfg executor.Config, err error) (int, ExecuteErrorResponse) {
	var routeErr *executor.RouteError
	if errors.As(err, &routeErr) {
		status := http.StatusBadGateway
		if routeErr.Code == executor.CodeTimeout {
			status = http.StatusGatewayTimeout
		}
		return status, ExecuteErrorResponse{
			Error:    string(routeErr.Code),
			Message:  routeErr.Err.Error(),
			Executor: routeErr.Executor,
		}
	}

	var execErr *executor.Error
	if errors.As(err, &execErr) {
		resp := ExecuteErrorResponse{
			Error:    string(execErr.Kind),
			Message:  execErr.Message,
			Executor: executor.TypeName(cfg),
		}
		switch execErr.Kind {
		case executor.KindExecutionFailure:
			return http.StatusUnprocessableEntity, resp
		case executor.KindTimeout:
			return http.StatusGatewayTimeout, resp
		case executor.KindCanceled:
			return statusClientClosedRequest, resp
		default:
			return http.StatusBadGateway, resp
		}
	}

	if errors.Is(err, executor.ErrInvalidConfig) || errors.Is(err, executor.ErrInvalidURL) {
		return http.StatusBadRequest, ExecuteErrorResponse{Error: "invalid_executor", Message: err.Error()}
	}
	return http.StatusInternalServerError, ExecuteErrorResponse{Error: "internal_error", Message: "tool execution failed"}
}

// handlePutCollection creates or replaces a collection and its tool list.
func (g *Gateway) handlePutCollection(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	var req CollectionRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := executor.ParseConfig(req.Executor); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]string, 0, len(req.Tools))
	for _, name := range req.Tools {
		pkg, export, ok := splitToolName(name)
		if !ok {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid tool name %q", name))
			return
		}
		tool, err := g.store.GetTool(r.Context(), pkg, export)
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown tool %q", name))
			return
		}
		if err != nil {
			g.logger.Error("getting tool failed", "tool", name, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to resolve tools")
			return
		}
		ids = append(ids, tool.ID)
	}

	c := &store.Collection{
		Slug:        slug,
		Name:        req.Name,
		Description: req.Description,
		Public:      req.Public,
		Executor:    req.Executor,
	}
	if err := g.store.UpsertCollection(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrInvalidEntity) {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Error("upserting collection failed", "slug", slug, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to save collection")
		return
	}
	if err := g.store.SetCollectionTools(r.Context(), slug, ids); err != nil {
		g.logger.Error("setting collection tools failed", "slug", slug, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to save collection tools")
		return
	}

	g.logger.Info("collection saved", "slug", slug, "public", req.Public, "tools", len(ids))
	g.writeCollection(w, r, slug)
}

// handleGetCollection returns a collection and its tool names.
func (g *Gateway) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	g.writeCollection(w, r, r.PathValue("slug"))
}

func (g *Gateway) writeCollection(w http.ResponseWriter, r *http.Request, slug string) {
	c, err := g.store.GetCollection(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "collection not found")
		return
	}
	if err != nil {
		g.logger.Error("getting collection failed", "slug", slug, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to get collection")
		return
	}
	tools, err := g.store.ListCollectionTools(r.Context(), slug)
	if err != nil {
		g.logger.Error("listing collection tools failed", "slug", slug, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to get collection")
		return
	}

	resp := CollectionResponse{
		Slug:        c.Slug,
		Name:        c.Name,
		Description: c.Description,
		Public:      c.Public,
		Executor:    executorView(c.Executor),
		Tools:       make([]string, 0, len(tools)),
	}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, t.QualifiedName())
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func executorView(raw json.RawMessage) ExecutorView {
	cfg, err := executor.ParseConfig(raw)
	if err != nil {
		return ExecutorView{Type: "invalid"}
	}
	if c, ok := cfg.(executor.CustomURL); ok {
		return ExecutorView{Type: "custom_url", URL: c.URL, HasAPIKey: c.APIKey != ""}
	}
	return ExecutorView{Type: "default"}
}

// handleSweep runs one health sweep and returns its report.
func (g *Gateway) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := g.scheduler.RunSweep(r.Context(), time.Now())
	if errors.Is(err, health.ErrSweepInProgress) {
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("health sweep failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "health sweep failed")
		return
	}
	g.sendJSON(w, http.StatusOK, report)
}

// handleRescore recomputes every tool's quality score.
func (g *Gateway) handleRescore(w http.ResponseWriter, r *http.Request) {
	report, err := g.rescorer.RescoreAll(r.Context())
	if err != nil {
		g.logger.Error("rescoring failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "rescoring failed")
		return
	}
	g.sendJSON(w, http.StatusOK, report)
}
