package stocktake

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler exposes the stock take API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateStockTakeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	input := CreateInput{SiteCode: req.SiteCode, Remark: req.Remark}
	if req.DocDate != nil {
		input.DocDate = *req.DocDate
	}
	header, err := h.service.Create(r.Context(), input, h.actorID(r))
	if err != nil {
		h.respondErr(w, r, "create stock take", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toHeaderResponse(header))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 50)
	offset := parseIntDefault(q.Get("offset"), 0)
	headers, err := h.service.List(r.Context(), q.Get("site"), Status(q.Get("status")), limit, offset)
	if err != nil {
		h.respondErr(w, r, "list stock takes", err)
		return
	}
	resp := make([]HeaderResponse, 0, len(headers))
	for _, hdr := range headers {
		resp = append(resp, toHeaderResponse(hdr))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	header, lines, totals, err := h.service.Get(r.Context(), docNo(r))
	if err != nil {
		h.respondErr(w, r, "load stock take", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(header, lines, totals))
}

func (h *Handler) UpdateRemark(w http.ResponseWriter, r *http.Request) {
	var req UpdateRemarkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	if err := h.service.UpdateRemark(r.Context(), docNo(r), req.Remark, h.actorID(r)); err != nil {
		h.respondErr(w, r, "update remark", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), docNo(r), h.actorID(r)); err != nil {
		h.respondErr(w, r, "delete stock take", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BeginSession(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	sess, items, err := h.service.BeginSession(r.Context(), docNo(r), toFilter(req))
	if err != nil {
		h.respondErr(w, r, "begin session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"session": toSessionResponse(sess),
		"items":   items,
	})
}

func (h *Handler) ApplyFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	sess, items, err := h.service.ApplyFilter(r.Context(), docNo(r), toFilter(req))
	if err != nil {
		h.respondErr(w, r, "apply filter", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"session": toSessionResponse(sess),
		"items":   items,
	})
}

func (h *Handler) SelectItems(w http.ResponseWriter, r *http.Request) {
	var req SelectItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	refs := make([]ItemRef, 0, len(req.Items))
	for _, item := range req.Items {
		refs = append(refs, ItemRef{ItemCode: item.ItemCode, UOM: item.UOM})
	}
	sess, err := h.service.SelectItems(r.Context(), docNo(r), refs)
	if err != nil {
		h.respondErr(w, r, "select items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) Proceed(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Proceed(r.Context(), docNo(r))
	if err != nil {
		h.respondErr(w, r, "proceed to quantities", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Back(r.Context(), docNo(r))
	if err != nil {
		h.respondErr(w, r, "back to selection", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req UpdateLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation failed", err.Error())
		return
	}
	input := UpdateLineInput{
		CountedQty: req.CountedQty,
		Remark:     req.Remark,
		Confirmed:  req.Confirmed,
	}
	if req.Breakdown != nil {
		b := toBreakdown(*req.Breakdown)
		input.Breakdown = &b
	}
	sess, err := h.service.UpdateLine(r.Context(), docNo(r), chi.URLParam(r, "itemCode"), chi.URLParam(r, "uom"), input)
	if err != nil {
		h.respondErr(w, r, "update line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.Save(r.Context(), docNo(r), h.actorID(r))
	if err != nil {
		h.respondErr(w, r, "save stock take", err)
		return
	}
	resp := make([]LineResponse, 0, len(lines))
	for _, l := range lines {
		resp = append(resp, toLineResponse(l))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	no := docNo(r)
	result, err := h.service.Post(r.Context(), no, h.actorID(r))
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			httpx.ProblemWithViolations(w, "posting rejected", vErr.Violations)
			return
		}
		h.respondErr(w, r, "post stock take", err)
		return
	}
	// A duplicate post converges on the same terminal state and reports it.
	httpx.JSON(w, http.StatusOK, toPostResponse(no, result))
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, catalog.ErrItemNotFound), errors.Is(err, catalog.ErrSiteNotFound):
		httpx.Problem(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, ErrSessionNotFound):
		httpx.Problem(w, http.StatusNotFound, "no active session", err.Error())
	case errors.Is(err, ErrAlreadyPosted):
		httpx.Problem(w, http.StatusConflict, "document already posted", err.Error())
	case errors.Is(err, ErrSessionState), errors.Is(err, ErrNoSelection), errors.Is(err, ErrLineNotFound):
		httpx.Problem(w, http.StatusUnprocessableEntity, "invalid session state", err.Error())
	case errors.Is(err, ErrNoConfirmedLines):
		httpx.Problem(w, http.StatusUnprocessableEntity, "no confirmed lines", err.Error())
	default:
		h.logger.Error(op+" failed", slog.String("doc_no", docNo(r)), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) actorID(r *http.Request) int64 {
	if op := shared.OperatorFromContext(r.Context()); op != nil {
		return op.ID
	}
	return 0
}

func docNo(r *http.Request) string {
	return chi.URLParam(r, "docNo")
}

func toFilter(req FilterRequest) catalog.Filter {
	return catalog.Filter{Search: req.Search, BrandCode: req.BrandCode, RangeCode: req.RangeCode}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
