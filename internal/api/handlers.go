package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/index"
	"github.com/starford/linkledger/internal/linkservice"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *linkservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *linkservice.Service) *Handler {
	return &Handler{svc: svc}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", apperr.ErrMalformedRequest)
	}
	return nil
}

// GetLedger handles GET /api/ledger.
//
//	@Summary		Get the parsed ledger
//	@Tags			ledger
//	@Produce		json
//	@Success		200	{object}	LedgerView
//	@Failure		403	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ledger [get]
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Ledger(r.Context())
	if err != nil {
		writeError(w, "get ledger", err)
		return
	}
	if view.Version != "" {
		w.Header().Set("ETag", strconv.Quote(view.Version))
	}
	writeJSON(w, http.StatusOK, view)
}

// GetRawLedger handles GET /api/ledger/raw.
//
//	@Summary		Get the ledger markdown as stored
//	@Tags			ledger
//	@Produce		text/markdown
//	@Success		200	{string}	string
//	@Security		BearerAuth
//	@Router			/ledger/raw [get]
func (h *Handler) GetRawLedger(w http.ResponseWriter, r *http.Request) {
	content, version, err := h.svc.RawLedger(r.Context())
	if err != nil {
		writeError(w, "get raw ledger", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	if version != "" {
		w.Header().Set("ETag", strconv.Quote(version))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// History handles GET /api/ledger/history.
//
//	@Summary		List recent commits of the ledger
//	@Tags			ledger
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum revisions"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/ledger/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	revs, err := h.svc.History(r.Context(), limit)
	if err != nil {
		writeError(w, "ledger history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Revisions: revs})
}

// Repair handles POST /api/ledger/repair.
//
//	@Summary		Remove duplicate links
//	@Tags			ledger
//	@Produce		json
//	@Success		200	{object}	ChangeResult
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ledger/repair [post]
func (h *Handler) Repair(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Repair(r.Context())
	if err != nil {
		writeError(w, "repair ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListLinks handles GET /api/links.
//
//	@Summary		List links in document order
//	@Tags			links
//	@Produce		json
//	@Param			category	query		string	false	"Filter by category"
//	@Success		200			{object}	LinkListResponse
//	@Security		BearerAuth
//	@Router			/links [get]
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Links(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, "list links", err)
		return
	}
	if rows == nil {
		rows = []index.LinkRow{}
	}
	writeJSON(w, http.StatusOK, LinkListResponse{Links: rows, Total: len(rows)})
}

// ListCategories handles GET /api/categories.
//
//	@Summary		List categories with their link counts
//	@Tags			links
//	@Produce		json
//	@Success		200	{object}	CategoryListResponse
//	@Security		BearerAuth
//	@Router			/categories [get]
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.svc.Categories(r.Context())
	if err != nil {
		writeError(w, "list categories", err)
		return
	}
	if cats == nil {
		cats = []index.CategoryCount{}
	}
	writeJSON(w, http.StatusOK, CategoryListResponse{Categories: cats})
}

// AddLink handles POST /api/links.
//
//	@Summary		Add a link to the ledger
//	@Tags			links
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddLinkRequest	true	"Link to add"
//	@Success		201		{object}	ChangeResult
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [post]
func (h *Handler) AddLink(w http.ResponseWriter, r *http.Request) {
	var req AddLinkRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "add link", err)
		return
	}
	res, err := h.svc.AddLink(r.Context(), req)
	if err != nil {
		writeError(w, "add link", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// DeleteLink handles DELETE /api/links.
// The link is selected by the url/title query parameters or a JSON body.
//
//	@Summary		Delete one link
//	@Tags			links
//	@Accept			json
//	@Produce		json
//	@Param			url		query		string				false	"Link URL"
//	@Param			title	query		string				false	"Link title"
//	@Param			body	body		DeleteLinkRequest	false	"Link selector"
//	@Success		200		{object}	ChangeResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [delete]
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := DeleteLinkRequest{URL: q.Get("url"), Title: q.Get("title")}
	if strings.TrimSpace(req.URL) == "" && strings.TrimSpace(req.Title) == "" && r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, "delete link", err)
			return
		}
	}
	res, err := h.svc.DeleteLink(r.Context(), req)
	if err != nil {
		writeError(w, "delete link", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteLinks handles POST /api/links/bulk-delete.
//
//	@Summary		Delete every link matching any selector
//	@Tags			links
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DeleteLinksRequest	true	"Link selectors"
//	@Success		200		{object}	ChangeResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links/bulk-delete [post]
func (h *Handler) DeleteLinks(w http.ResponseWriter, r *http.Request) {
	var req DeleteLinksRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "delete links", err)
		return
	}
	res, err := h.svc.DeleteLinks(r.Context(), req)
	if err != nil {
		writeError(w, "delete links", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search handles GET /api/search.
//
//	@Summary		Search links
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// StoreStatus handles GET /api/store/status.
//
//	@Summary		Report backend reachability and ledger size
//	@Tags			store
//	@Produce		json
//	@Success		200	{object}	StoreStatus
//	@Failure		503	{object}	StoreStatus
//	@Security		BearerAuth
//	@Router			/store/status [get]
func (h *Handler) StoreStatus(w http.ResponseWriter, r *http.Request) {
	st := h.svc.StoreStatus(r.Context())
	status := http.StatusOK
	if !st.Reachable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}
