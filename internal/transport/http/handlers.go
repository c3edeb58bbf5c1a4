package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"idregistry/internal/registry/engine"
	"idregistry/internal/registry/exclusions"
	"idregistry/internal/registry/models"
	"idregistry/internal/registry/query"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

// Handler delegates to the engine for writes and the query service for
// reads.
type Handler struct {
	engine     *engine.Engine
	query      *query.Service
	exclusions *exclusions.Cache
	logger     *slog.Logger
}

// NewHandler builds the HTTP handler set. The exclusion cache is required;
// construct it with a nil Redis client to answer straight from the store.
func NewHandler(eng *engine.Engine, qs *query.Service, cache *exclusions.Cache, logger *slog.Logger) *Handler {
	return &Handler{engine: eng, query: qs, exclusions: cache, logger: logger}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- identities -------------------------------------------------------------

type addIdentityRequest struct {
	Source   string  `json:"source"`
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Username *string `json:"username"`
	UUID     string  `json:"uuid"`
}

func (h *Handler) handleAddIdentity(w http.ResponseWriter, r *http.Request) {
	var req addIdentityRequest
	if !decode(w, r, &req) {
		return
	}
	identity, err := h.engine.AddIdentity(r.Context(), req.Source, req.Name, req.Email, req.Username, req.UUID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, identity)
}

func (h *Handler) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteIdentity(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveIdentityRequest struct {
	UUID string `json:"uuid"`
}

func (h *Handler) handleMoveIdentity(w http.ResponseWriter, r *http.Request) {
	var req moveIdentityRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.MoveIdentity(r.Context(), chi.URLParam(r, "id"), req.UUID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- unique identities ------------------------------------------------------

func (h *Handler) handleListUniqueIdentities(w http.ResponseWriter, r *http.Request) {
	filter, err := query.ParseUniqueIdentityFilter(filterParams(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, pageSize, err := pagingParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.query.UniqueIdentities(r.Context(), filter, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetUniqueIdentity(w http.ResponseWriter, r *http.Request) {
	uid, err := h.query.UniqueIdentity(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uid)
}

type mergeRequest struct {
	UUID string `json:"uuid"`
}

func (h *Handler) handleMergeIdentities(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.MergeIdentities(r.Context(), chi.URLParam(r, "uuid"), req.UUID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateProfileRequest struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Gender      *string `json:"gender"`
	GenderAcc   *int    `json:"gender_acc"`
	IsBot       *bool   `json:"is_bot"`
	CountryCode *string `json:"country_code"`
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decode(w, r, &req) {
		return
	}
	profile, err := h.engine.UpdateProfile(r.Context(), chi.URLParam(r, "uuid"), store.ProfileUpdate{
		Name:        req.Name,
		Email:       req.Email,
		Gender:      req.Gender,
		GenderAcc:   req.GenderAcc,
		IsBot:       req.IsBot,
		CountryCode: req.CountryCode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// --- enrollments ------------------------------------------------------------

type enrollmentRequest struct {
	Organization string `json:"organization"`
	FromDate     string `json:"from_date"`
	ToDate       string `json:"to_date"`
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	uuid, req, from, to, ok := h.enrollmentParams(w, r)
	if !ok {
		return
	}
	if err := h.engine.Enroll(r.Context(), uuid, req.Organization, from, to); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	uuid, req, from, to, ok := h.enrollmentParams(w, r)
	if !ok {
		return
	}
	if err := h.engine.Withdraw(r.Context(), uuid, req.Organization, from, to); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enrollmentParams(w http.ResponseWriter, r *http.Request) (string, enrollmentRequest, *time.Time, *time.Time, bool) {
	var req enrollmentRequest
	if !decode(w, r, &req) {
		return "", req, nil, nil, false
	}
	from, err := parseDate(req.FromDate, "from_date")
	if err != nil {
		h.writeError(w, r, err)
		return "", req, nil, nil, false
	}
	to, err := parseDate(req.ToDate, "to_date")
	if err != nil {
		h.writeError(w, r, err)
		return "", req, nil, nil, false
	}
	return chi.URLParam(r, "uuid"), req, from, to, true
}

// --- organizations ----------------------------------------------------------

type addOrganizationRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleAddOrganization(w http.ResponseWriter, r *http.Request) {
	var req addOrganizationRequest
	if !decode(w, r, &req) {
		return
	}
	org, err := h.engine.AddOrganization(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (h *Handler) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	filter, err := query.ParseOrganizationFilter(filterParams(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, pageSize, err := pagingParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.query.Organizations(r.Context(), filter, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.query.Organization(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *Handler) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteOrganization(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addDomainRequest struct {
	Domain      string `json:"domain"`
	IsTopDomain bool   `json:"is_top_domain"`
}

func (h *Handler) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	var req addDomainRequest
	if !decode(w, r, &req) {
		return
	}
	dom, err := h.engine.AddDomain(r.Context(), chi.URLParam(r, "name"), req.Domain, req.IsTopDomain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dom)
}

func (h *Handler) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteDomain(r.Context(), chi.URLParam(r, "domain")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- countries --------------------------------------------------------------

func (h *Handler) handleLoadCountries(w http.ResponseWriter, r *http.Request) {
	var countries []models.Country
	if !decode(w, r, &countries) {
		return
	}
	if err := h.engine.LoadCountries(r.Context(), countries); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.query.Countries(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if countries == nil {
		countries = []models.Country{}
	}
	writeJSON(w, http.StatusOK, countries)
}

// --- matching blacklist -----------------------------------------------------

type exclusionRequest struct {
	Term string `json:"term"`
}

func (h *Handler) handleAddExclusion(w http.ResponseWriter, r *http.Request) {
	var req exclusionRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.engine.AddMatchingExclusion(r.Context(), req.Term)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleListExclusions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.query.MatchingExclusions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.MatchingExclusion{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCheckExclusion(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("term")
	if term == "" {
		h.writeError(w, r, domerrors.New(domerrors.CodeInvalidFilter, "%q parameter is required", "term"))
		return
	}
	excluded, err := h.exclusions.IsExcluded(r.Context(), term)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"term": term, "excluded": excluded})
}

func (h *Handler) handleDeleteExclusion(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteMatchingExclusion(r.Context(), chi.URLParam(r, "term")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- provenance -------------------------------------------------------------

func (h *Handler) handleListContexts(w http.ResponseWriter, r *http.Request) {
	filter, err := query.ParseContextFilter(filterParams(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, pageSize, err := pagingParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.query.Contexts(r.Context(), filter, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetContext(w http.ResponseWriter, r *http.Request) {
	cuid := chi.URLParam(r, "cuid")
	result, err := h.query.Contexts(r.Context(), store.ContextFilter{CUID: cuid}, 1, 1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(result.Items) == 0 {
		h.writeError(w, r, domerrors.New(domerrors.CodeNotFound, "context %q not found", cuid))
		return
	}
	writeJSON(w, http.StatusOK, result.Items[0])
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := query.ParseTransactionFilter(filterParams(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, pageSize, err := pagingParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.query.Transactions(r.Context(), filter, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- shared helpers ---------------------------------------------------------

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   string(domerrors.CodeInvalidValue),
			"message": "invalid request body",
		})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domerrors.ToHTTPStatus(domerrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	writeJSON(w, status, map[string]string{
		"error":   string(domerrors.CodeOf(err)),
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// filterParams collects every query parameter except the paging ones. The
// per-entity filter parsers reject unknown keys, so they must all get
// through.
func filterParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if key == "page" || key == "page_size" {
			continue
		}
		if len(values) > 0 && values[0] != "" {
			params[key] = values[0]
		}
	}
	return params
}

func pagingParams(r *http.Request) (int, int, error) {
	page, err := intParam(r, "page")
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := intParam(r, "page_size")
	if err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func intParam(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, domerrors.New(domerrors.CodeInvalidFilter, "%q must be an integer, got %q", key, value)
	}
	return n, nil
}

// parseDate accepts RFC 3339 timestamps and bare dates.
func parseDate(value, field string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, nil
	}
	return nil, domerrors.New(domerrors.CodeInvalidValue, "%q is not a valid date for %q", value, field)
}
