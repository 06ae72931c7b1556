package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"docsearch/internal/domain/rag"
	applog "docsearch/internal/platform/log"
)

// multipart framing on top of the file itself
const multipartSlack = 1 << 20

// DocumentHandler serves ingestion, document management and search.
type DocumentHandler struct {
	engine      Engine
	defaultTopK int
	maxBytes    int64
}

func NewDocumentHandler(engine Engine, defaultTopK int, maxBytes int64) *DocumentHandler {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &DocumentHandler{engine: engine, defaultTopK: defaultTopK, maxBytes: maxBytes}
}

func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/retry", h.Retry)
		r.Post("/{id}/cancel", h.Cancel)
	})

	r.Post("/search", h.Search)
	r.Post("/index/rebuild", h.Rebuild)
}

// ── Ingestion ──

// Upload accepts a multipart "file" field or a raw body. The kind comes
// from the "kind" form or query value, then the file name, then the
// Content-Type; when all are absent the content is sniffed. async=true
// returns 202 with the pending document.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	data, kind, err := h.readUpload(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds limit (%d bytes)", h.maxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		doc, err := h.engine.Submit(r.Context(), data, kind)
		if err != nil {
			applog.Error("[API] Submit failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to submit document")
			return
		}
		writeJSON(w, http.StatusAccepted, doc)
		return
	}

	doc, err := h.engine.Ingest(r.Context(), data, kind)
	if err != nil {
		h.writeIngestError(w, doc, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, rag.MediaKind, error) {
	declared := r.URL.Query().Get("kind")

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if h.maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartSlack)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", err
			}
			return nil, "", fmt.Errorf("failed to parse multipart form")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("file field is required")
		}
		defer file.Close()

		if h.maxBytes > 0 && header.Size > h.maxBytes {
			return nil, "", &http.MaxBytesError{Limit: h.maxBytes}
		}
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read file")
		}

		declared = lo.CoalesceOrEmpty(
			r.FormValue("kind"),
			declared,
			string(rag.KindFromFilename(header.Filename)),
			partType(header.Header.Get("Content-Type")),
		)
		return data, rag.MediaKind(declared), nil
	}

	body := io.Reader(r.Body)
	if h.maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("failed to read body")
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("request body is empty")
	}
	return data, rag.MediaKind(lo.CoalesceOrEmpty(declared, partType(mediaType))), nil
}

// partType keeps a Content-Type only when it says something about the
// content.
func partType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "application/octet-stream" {
		return ""
	}
	return mt
}

func (h *DocumentHandler) writeIngestError(w http.ResponseWriter, doc *rag.Document, err error) {
	switch {
	case errors.Is(err, rag.ErrUnsupportedFormat):
		writeErrorData(w, http.StatusUnsupportedMediaType, err.Error(), doc)
	case errors.Is(err, rag.ErrExtractionFailed):
		writeErrorData(w, http.StatusUnprocessableEntity, err.Error(), doc)
	case errors.Is(err, rag.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rag.ErrNotRetryable):
		writeErrorData(w, http.StatusConflict, err.Error(), doc)
	case doc != nil && doc.Status == rag.StatusPending:
		// Interrupted; the document can be retried.
		writeErrorData(w, http.StatusServiceUnavailable, "ingestion interrupted, retry later", doc)
	default:
		applog.Error("[API] Ingestion failed", "error", err)
		writeErrorData(w, http.StatusInternalServerError, "ingestion failed", doc)
	}
}

// ── Documents ──

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Documents())
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.Document(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Delete(r.Context(), id); err != nil {
		if errors.Is(err, rag.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		applog.Error("[API] Delete failed", "doc_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *DocumentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeIngestError(w, doc, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.engine.CancelIngest(id) {
		writeError(w, http.StatusNotFound, "no running ingestion for document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ── Search ──

type searchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
	Mode  string `json:"mode"`
}

type searchHit struct {
	rag.RankedResult
	SnippetAvailable bool `json:"snippet_available"`
}

type searchResponse struct {
	Results   []searchHit       `json:"results"`
	Mode      rag.RetrievalMode `json:"mode"`
	ElapsedMs int64             `json:"elapsed_ms"`
}

func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	topK := h.defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	mode := rag.RetrievalMode(strings.ToLower(strings.TrimSpace(req.Mode)))

	result, err := h.engine.Search(r.Context(), rag.SearchRequest{Query: req.Query, TopK: topK, Mode: mode})
	if err != nil {
		if errors.Is(err, rag.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		applog.Error("[API] Search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results: lo.Map(result.Results, func(res rag.RankedResult, _ int) searchHit {
			return searchHit{RankedResult: res, SnippetAvailable: res.SnippetAvailable()}
		}),
		Mode:      result.Mode,
		ElapsedMs: result.ElapsedMs,
	})
}

// ── Operations ──

func (h *DocumentHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Rebuild(r.Context())
	if err != nil {
		applog.Error("[API] Rebuild failed", "error", err)
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type healthResponse struct {
	rag.Health
	Index          rag.IndexStats  `json:"index"`
	SupportedKinds []rag.MediaKind `json:"supported_kinds"`
}

func (h *DocumentHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Health:         h.engine.Health(r.Context()),
		Index:          h.engine.IndexStats(),
		SupportedKinds: h.engine.SupportedKinds(),
	})
}
