package ingestion

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
	"go.uber.org/zap"

	"github.com/prodtrace/prodtrace/internal/domain"
	"github.com/prodtrace/prodtrace/internal/query"
	"github.com/prodtrace/prodtrace/internal/report"
	"github.com/prodtrace/prodtrace/internal/repository"
	"github.com/prodtrace/prodtrace/internal/tenant"
)

const maxUploadBytes = 32 << 20

// Handler exposes the upload, report, record and tenant endpoints.
type Handler struct {
	service    *Service
	reporter   *report.Reporter
	correlator *query.Correlator
	tenants    repository.TenantRepository
	jobs       repository.UploadJobRepository
	logger     *zap.Logger
}

// NewHandler wires the HTTP surface.
func NewHandler(
	service *Service,
	reporter *report.Reporter,
	correlator *query.Correlator,
	tenants repository.TenantRepository,
	jobs repository.UploadJobRepository,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:    service,
		reporter:   reporter,
		correlator: correlator,
		tenants:    tenants,
		jobs:       jobs,
		logger:     logger,
	}
}

// Routes registers every endpoint on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /uploads", h.handleUpload)
	mux.HandleFunc("GET /uploads", h.handleListJobs)
	mux.HandleFunc("GET /uploads/{job}", h.handleJobStatus)
	mux.HandleFunc("POST /uploads/{job}/import", h.handleImport)
	mux.HandleFunc("GET /uploads/{job}/errors", h.handleErrors)
	mux.HandleFunc("GET /uploads/{job}/errors/export", h.handleErrorExport)
	mux.HandleFunc("GET /records", h.handleRecords)
	mux.HandleFunc("GET /records/lineage", h.handleLineage)
	mux.HandleFunc("POST /tenants", h.handleCreateTenant)
	mux.HandleFunc("GET /tenants", h.handleListTenants)
	mux.HandleFunc("GET /tenants/{code}", h.handleGetTenant)
	return mux
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file required: %v", err))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return
	}

	result, err := h.service.Upload(r.Context(), UploadRequest{
		TenantHint: strings.TrimSpace(r.FormValue("tenant")),
		Stage:      r.FormValue("stage"),
		FileName:   header.Filename,
		Payload:    payload,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	resolved, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	jobs, err := h.jobs.ListByTenant(r.Context(), resolved.ID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.UploadJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	result, err := h.service.Import(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleErrors(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", report.DefaultPageSize)

	result, err := h.reporter.ListPage(r.Context(), jobID, page, pageSize)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleErrorExport(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	// Resolve the job before streaming so an unknown id is a 404, not an
	// empty export.
	if _, err := h.jobs.GetByID(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="errors-%s.csv"`, jobID))
		if err := h.reporter.ExportCSV(r.Context(), jobID, w); err != nil {
			h.logger.Error("csv export failed", zap.String("job_id", jobID.String()), zap.Error(err))
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="errors-%s.xlsx"`, jobID))
		if err := h.reporter.ExportXLSX(r.Context(), jobID, w); err != nil {
			h.logger.Error("xlsx export failed", zap.String("job_id", jobID.String()), zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format: %s", format))
	}
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	resolved, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	filter, err := recordFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.correlator.Query(r.Context(), resolved.ID, filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLineage(w http.ResponseWriter, r *http.Request) {
	resolved, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	if productID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	lineage, err := h.correlator.Lineage(r.Context(), resolved.ID, productID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

type createTenantRequest struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	IsDefault bool   `json:"is_default"`
}

func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.TrimSpace(req.Code)
	if req.Name == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "name and code are required")
		return
	}

	created, err := h.tenants.Create(r.Context(), domain.NewTenant(req.Name, req.Code, req.IsDefault))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if tenants == nil {
		tenants = []domain.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (h *Handler) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.PathValue("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "tenant code is required")
		return
	}

	found, err := h.tenants.GetByCode(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// resolveTenant applies the directory decision rules to the request's tenant
// hint. It writes the error response itself when resolution fails.
func (h *Handler) resolveTenant(w http.ResponseWriter, r *http.Request) (domain.Tenant, bool) {
	snapshot, err := h.tenants.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return domain.Tenant{}, false
	}
	resolved, err := tenant.Resolve(strings.TrimSpace(r.URL.Query().Get("tenant")), snapshot)
	if err != nil {
		h.writeServiceError(w, err)
		return domain.Tenant{}, false
	}
	return resolved, true
}

func recordFilter(r *http.Request) (domain.RecordFilter, error) {
	q := r.URL.Query()
	filter := domain.RecordFilter{
		LotNo:     strings.TrimSpace(q.Get("lot_no")),
		MachineNo: strings.TrimSpace(q.Get("machine_no")),
		Limit:     queryInt(r, "limit", 100),
		Offset:    queryInt(r, "offset", 0),
	}

	if raw := strings.TrimSpace(q.Get("stage")); raw != "" {
		stage := domain.Stage(strings.ToUpper(raw))
		if !stage.Valid() {
			return domain.RecordFilter{}, fmt.Errorf("unknown stage: %s", raw)
		}
		filter.Stage = stage
	}
	if raw := q.Get("date_from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.RecordFilter{}, fmt.Errorf("invalid date_from: %s", raw)
		}
		filter.DateFrom = &t
	}
	if raw := q.Get("date_to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.RecordFilter{}, fmt.Errorf("invalid date_to: %s", raw)
		}
		filter.DateTo = &t
	}
	if raw := q.Get("winder_no"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.RecordFilter{}, fmt.Errorf("invalid winder_no: %s", raw)
		}
		filter.WinderNo = &n
	}
	return filter, nil
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var resolution *tenant.ResolutionError
	switch {
	case errors.As(err, &resolution):
		writeErrorCode(w, http.StatusUnprocessableEntity, resolution.Reason, resolution.Error())
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrUnknownStage),
		errors.Is(err, ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrTenantNotFound),
		errors.Is(err, domain.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrJobNotValidated),
		errors.Is(err, domain.ErrJobAlreadyImported),
		errors.Is(err, domain.ErrTenantExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
