package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/errortypes"
)

// DefaultPageSize is the limit used when a request does not give one.
const DefaultPageSize = 20

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 10 << 20

type entryInput struct {
	Content *string `json:"content"`
}

type createContextRequest struct {
	Entries []entryInput `json:"entries"`
	Readme  *string      `json:"readme"`
}

type createContextResponse struct {
	URI       string `json:"uri"`
	ContextID string `json:"contextId"`
}

type readmeBody struct {
	Readme *string `json:"readme"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type addEntryRequest struct {
	Content *string `json:"content"`
}

type addEntryResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return errortypes.ValidationError(err, "invalid JSON body")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return errortypes.ValidationError(errors.New(msg), msg)
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid("%s must be an integer", name)
	}
	return v, nil
}

// pageParams reads limit and offset. limit is clamped to [1, maxPageSize];
// a negative offset becomes 0.
func (h *Handler) pageParams(r *http.Request) (limit, offset int, err error) {
	limit, err = intParam(r, "limit", DefaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	offset, err = intParam(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}

	if limit < 1 {
		limit = 1
	}
	if limit > h.maxPageSize {
		limit = h.maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, nil
}

func (h *Handler) createContext(w http.ResponseWriter, r *http.Request) {
	var req createContextRequest
	if err := decodeBody(r, &req, true); err != nil {
		HandleError(w, h.logger, err)
		return
	}

	entries := make([]string, 0, len(req.Entries))
	for i, e := range req.Entries {
		if e.Content == nil {
			HandleError(w, h.logger, invalid("entries[%d].content is required", i))
			return
		}
		entries = append(entries, *e.Content)
	}

	res, err := h.service.CreateContext(r.Context(), entries, req.Readme)
	if err != nil {
		HandleError(w, h.logger, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createContextResponse{URI: res.URI, ContextID: res.ContextID})
}

func (h *Handler) listContexts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := h.pageParams(r)
	if err != nil {
		HandleError(w, h.logger, err)
		return
	}

	page, err := h.service.ListContexts(r.Context(), limit, offset)
	if err != nil {
		HandleError(w, h.logger, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) getReadme(w http.ResponseWriter, r *http.Request) {
	readme, err := h.service.GetReadme(r.Context(), r.PathValue("contextId"))
	if err != nil {
		HandleError(w, h.logger, err)
		return
	}
	h.writeJSON(w, http.StatusOK, readmeBody{Readme: readme})
}

func (h *Handler) updateReadme(w http.ResponseWriter, r *http.Request) {
	var req readmeBody
	if err := decodeBody(r, &req, false); err != nil {
		HandleError(w, h.logger, err)
		return
	}
	if req.Readme == nil {
		HandleError(w, h.logger, invalid("readme is required"))
		return
	}

	ok, err := h.service.UpdateReadme(r.Context(), r.PathValue("contextId"), req.Readme)
	if err != nil {
		HandleError(w, h.logger, err)
		return
	}
	h.writeJSON(w, http.StatusOK, successResponse{Success: ok})
}

func (h *Handler) getEntries(w http.ResponseWriter, r *http.Request) {
	order, err := contextstore.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		HandleError(w, h.logger, errortypes.ValidationError(err, "invalid order"))
		return
	}
	limit, offset, err := h.pageParams(r)
	if err != nil {
		HandleError(w, h.logger, err)
		return
	}

	page, err := h.service.GetContext(r.Context(), r.PathValue("contextId"), order, limit, offset)
	if err != nil {
		HandleError(w, h.logger, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) addEntry(w http.ResponseWriter, r *http.Request) {
	var req addEntryRequest
	if err := decodeBody(r, &req, false); err != nil {
		HandleError(w, h.logger, err)
		return
	}
	if req.Content == nil {
		HandleError(w, h.logger, invalid("content is required"))
		return
	}

	contextID := r.PathValue("contextId")
	view, err := h.service.AddEntry(r.Context(), contextID, *req.Content)
	if err != nil {
		HandleError(w, h.logger, err)
		return
	}

	// The entry is committed; delivery failures never affect the response.
	h.gateway.PublishEntry(contextID, *view)

	h.writeJSON(w, http.StatusCreated, addEntryResponse{ID: view.ID, Timestamp: view.Timestamp})
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.ServeSubscribe(w, r, r.PathValue("contextId")); err != nil {
		HandleError(w, h.logger, err)
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	subscribers := 0
	for _, subs := range h.registry.AllSubscriptions() {
		subscribers += len(subs)
	}
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Subscribers: subscribers})
}

func (h *Handler) metricsReport(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "json" {
		h.writeJSON(w, http.StatusOK, h.metrics.Snapshot())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, h.metrics.GetReport())
}
