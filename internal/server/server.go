package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"civitrack/internal/domain"
	"civitrack/internal/engine"
	"civitrack/internal/repo"
	"civitrack/internal/seq"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_terminal"`
	Message string         `json:"message" example:"work order is in a terminal status"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"Completed\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Civitrack API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				ctx := context.WithValue(r.Context(), requestKey{}, r)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Civitrack API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerReports(group, cfg.Engine)
	registerWorkOrders(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerEvidence(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyTerminal):
		return newAPIError(http.StatusConflict, "already_terminal", err.Error(), nil)
	case errors.Is(err, engine.ErrUnassigned):
		return newAPIError(http.StatusUnprocessableEntity, "unassigned", err.Error(), nil)
	case errors.Is(err, engine.ErrMissingEvidence):
		return newAPIError(http.StatusUnprocessableEntity, "missing_evidence", err.Error(), nil)
	case errors.Is(err, seq.ErrUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "allocation_unavailable", err.Error(), nil)
	case errors.Is(err, engine.ErrMirrorFailed):
		return newAPIError(http.StatusBadGateway, "mirror_failed", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "nothing to update") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Submit report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body SubmitReportRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Classification == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "classification is required", nil)
		}
		p, err := e.SubmitReport(ctx, domain.Report{
			Classification: input.Body.Classification,
			Location:       stringOrEmpty(input.Body.Location),
			Measurement:    stringOrEmpty(input.Body.Measurement),
			SubmittedBy:    stringOrEmpty(input.Body.SubmittedBy),
			Description:    stringOrEmpty(input.Body.Description),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Report `json:"body"`
	}, error) {
		items, err := e.Repo.ListReports(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Report `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-status-counts",
		Method:      http.MethodGet,
		Path:        "/reports/status-counts",
		Summary:     "Report counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusCountsResponse `json:"body"`
	}, error) {
		counts, err := e.Repo.CountReportsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusCountsResponse `json:"body"`
		}{Body: StatusCountsResponse{Counts: counts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		p, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: p}, nil
	})
}

func registerWorkOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-order",
		Method:        http.MethodPost,
		Path:          "/work-orders",
		Summary:       "Create or reassign a work order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkOrderRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ReportID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "report_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateOrAssign(ctx, engine.AssignOptions{
			ReportID:   input.Body.ReportID,
			AssigneeID: stringOrEmpty(input.Body.AssigneeID),
			ActorID:    actorID,
			Origin:     originFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/work-orders",
		Summary:     "List work orders",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WorkOrder `json:"body"`
	}, error) {
		items, err := e.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkOrder `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{work_order_id}",
		Summary:     "Get work order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkOrderID string `path:"work_order_id"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		w, err := e.Get(ctx, input.WorkOrderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-order",
		Method:      http.MethodPatch,
		Path:        "/work-orders/{work_order_id}",
		Summary:     "Update work order status or assignee",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		WorkOrderID string                 `path:"work_order_id"`
		Body        UpdateWorkOrderRequest `json:"body"`
	}) (*struct {
		Body domain.WorkOrder `json:"body"`
	}, error) {
		raw := rawBodyMap(ctx)
		if len(raw) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		_, assigneeProvided := raw["assignee_id"]
		w, err := e.Update(ctx, engine.UpdateOptions{
			ID:               input.WorkOrderID,
			Status:           stringOrEmpty(input.Body.Status),
			Assignee:         input.Body.AssigneeID,
			AssigneeProvided: assigneeProvided,
			ActorID:          actorID,
			Origin:           originFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkOrder `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-work-order",
		Method:      http.MethodDelete,
		Path:        "/work-orders/{work_order_id}",
		Summary:     "Delete work order",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		WorkOrderID string `path:"work_order_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Delete(ctx, input.WorkOrderID, actorID, originFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-entries",
		Method:      http.MethodGet,
		Path:        "/audit-entries",
		Summary:     "List audit entries",
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
		ActorID    string `query:"actor_id"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body PaginatedAuditEntries `json:"body"`
	}, error) {
		filters := repo.AuditFilters{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			ActorID:    input.ActorID,
			Limit:      input.Limit,
		}
		if input.Cursor != "" {
			cursor, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			filters.Cursor = cursor
		}
		items, err := e.Repo.ListAuditEntries(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		out := PaginatedAuditEntries{Items: items}
		if filters.Limit > 0 && len(items) == filters.Limit {
			out.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return &struct {
			Body PaginatedAuditEntries `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "append-audit-entry",
		Method:        http.MethodPost,
		Path:          "/audit-entries",
		Summary:       "Append audit entry",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AppendAuditEntryRequest `json:"body"`
	}) (*struct {
		Body domain.AuditEntry `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.EntityType == "" || input.Body.EntityID == "" || input.Body.Action == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "entity_type, entity_id and action are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.Audit.Record(ctx, actorID, input.Body.EntityType, input.Body.EntityID,
			input.Body.Action, input.Body.OldValue, input.Body.NewValue, originFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AuditEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-audit-entries",
		Method:      http.MethodPost,
		Path:        "/audit-entries/purge",
		Summary:     "Purge audit entries older than a cutoff",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body PurgeAuditRequest `json:"body"`
	}) (*struct {
		Body PurgeAuditResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cutoff, err := time.Parse(time.RFC3339, input.Body.Before)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "before must be an RFC 3339 timestamp", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		member, err := e.Repo.GetStaff(ctx, actorID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusForbidden, "forbidden", "purging the audit trail requires an authorized position", nil)
			}
			return nil, handleError(err)
		}
		if e.Config == nil || !e.Config.CanPurge(member.Position) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "purging the audit trail requires an authorized position", nil)
		}
		deleted, err := e.Repo.PurgeAuditEntriesBefore(ctx, cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PurgeAuditResponse `json:"body"`
		}{Body: PurgeAuditResponse{Deleted: deleted, Before: input.Body.Before}}, nil
	})
}

// registerEvidence wires the multipart upload and the raw download directly
// on the router; huma's JSON pipeline does not fit streamed file bodies.
func registerEvidence(r chi.Router, basePath string, e engine.Engine) {
	uploadPath := path.Join(basePath, "/work-orders/{work_order_id}/evidence")

	r.Post(uploadPath, func(w http.ResponseWriter, req *http.Request) {
		actorID, authErr := actorIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		if err := req.ParseMultipartForm(32 << 20); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart form required", nil))
			return
		}
		file, header, err := req.FormFile("document")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "document file is required", nil))
			return
		}
		defer file.Close()
		status := req.FormValue("status")
		if status == "" {
			status = domain.StatusCompleted
		}
		order, err := e.Update(req.Context(), engine.UpdateOptions{
			ID:     chi.URLParam(req, "work_order_id"),
			Status: status,
			Evidence: &engine.Upload{
				Content:      file,
				OriginalName: header.Filename,
			},
			ActorID: actorID,
			Origin:  req.RemoteAddr,
		})
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(order)
	})

	r.Get(uploadPath, func(w http.ResponseWriter, req *http.Request) {
		order, err := e.Get(req.Context(), chi.URLParam(req, "work_order_id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if order.EvidenceHandle == nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "no evidence on file", nil))
			return
		}
		f, err := e.Evidence.Open(req.Context(), *order.EvidenceHandle)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "evidence file missing", nil))
			return
		}
		defer f.Close()
		name := stringOrEmpty(order.EvidenceOriginalName)
		if name == "" {
			name = *order.EvidenceHandle
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		_, _ = io.Copy(w, f)
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Civitrack API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

// originFromContext reports the caller's network address for audit entries.
func originFromContext(ctx context.Context) string {
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		return req.RemoteAddr
	}
	return ""
}
