package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"distill/api/internal/blocks"
	"distill/api/internal/export"
	"distill/api/internal/history"
	"distill/api/internal/logger"
	"distill/api/internal/realtime"
	"distill/api/internal/store"
	"distill/api/internal/synced"
)

const defaultUserID = "local"

type HTTPServer struct {
	service    *Service
	hub        *realtime.Hub
	corsOrigin string
	log        *logger.Logger
}

func NewHTTPServer(service *Service, hub *realtime.Hub, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		hub:        hub,
		corsOrigin: corsOrigin,
		log:        service.log.With("component", "http"),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// userID returns the acting user. Authentication happens upstream; the
// header is trusted as is.
func (s *HTTPServer) userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	if s.service.cfg.DefaultUserID != "" {
		return s.service.cfg.DefaultUserID
	}
	return defaultUserID
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	userID := s.userID(r)

	if r.Method == http.MethodGet && r.URL.Path == "/api/realtime" {
		if s.hub == nil {
			writeError(w, http.StatusServiceUnavailable, CodeRealtimeUnavailable, "Realtime is not configured", nil)
			return
		}
		s.hub.ServeWS(w, r, userID)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/pages/tree" {
		pages, err := s.service.Tree(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pages)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/pages" {
		var body CreatePageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		page, err := s.service.CreatePage(r.Context(), userID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, page)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/pages/reorder" {
		var body ReorderInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		if err := s.service.Reorder(r.Context(), userID, body); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/trash" {
		entries, err := s.service.ListTrash(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/trash/empty" {
		deleted, err := s.service.EmptyTrash(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), userID, query.Get("q"), limit, offset))
		return
	}

	parts, err := splitPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidPath, err.Error(), nil)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "synced-blocks" {
		s.handleSynced(w, r, userID, parts[2:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "pages" {
		s.handlePage(w, r, userID, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request, userID, pageID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 && r.Method == http.MethodPut {
		var body UpdatePageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		page, err := s.service.UpdatePage(ctx, userID, pageID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	if len(rest) == 1 && rest[0] == "collapse" && r.Method == http.MethodPut {
		if err := s.service.ToggleCollapse(ctx, userID, pageID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) == 1 && rest[0] == "trash" && r.Method == http.MethodPut {
		if err := s.service.TrashPage(ctx, userID, pageID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) == 1 && rest[0] == "restore" && r.Method == http.MethodPut {
		page, err := s.service.RestorePage(ctx, userID, pageID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	if len(rest) == 1 && rest[0] == "permanent" && r.Method == http.MethodDelete {
		if err := s.service.DeletePermanent(ctx, userID, pageID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) == 1 && rest[0] == "blocks" && r.Method == http.MethodGet {
		rows, err := s.service.Blocks(ctx, userID, pageID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	if len(rest) == 2 && rest[0] == "blocks" && rest[1] == "batch" && r.Method == http.MethodPut {
		var body struct {
			Blocks []blocks.Row `json:"blocks"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		result, err := s.service.SaveBlocks(ctx, userID, pageID, body.Blocks)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		commits, err := s.service.History(ctx, userID, pageID, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pageId": pageID, "commits": commits})
		return
	}

	if len(rest) == 2 && rest[0] == "history" && r.Method == http.MethodGet {
		content, commit, err := s.service.Version(ctx, userID, pageID, rest[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commit": commit, "content": content})
		return
	}

	if len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet {
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		result, err := s.service.Export(ctx, export.Request{
			UserID:  userID,
			PageID:  pageID,
			Version: r.URL.Query().Get("version"),
			Format:  format,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
}

func (s *HTTPServer) handleSynced(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 && r.Method == http.MethodGet {
		list, err := s.service.ListSyncedBlocks(ctx, userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	if len(rest) == 0 && r.Method == http.MethodPost {
		var body struct {
			Title   string        `json:"title"`
			Content []synced.Item `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		block, err := s.service.CreateSyncedBlock(ctx, userID, body.Title, body.Content)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, block)
		return
	}

	if len(rest) == 1 && r.Method == http.MethodPost {
		var body struct {
			BlockID       string `json:"blockId"`
			SyncedBlockID string `json:"syncedBlockId"`
		}
		switch rest[0] {
		case "convert", "link", "unlink":
		default:
			writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
			return
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		switch rest[0] {
		case "convert":
			block, err := s.service.ConvertToSynced(ctx, userID, body.BlockID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, block)
		case "link":
			row, err := s.service.LinkSyncedBlock(ctx, userID, body.SyncedBlockID, body.BlockID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, row)
		case "unlink":
			row, err := s.service.UnlinkSyncedBlock(ctx, userID, body.BlockID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, row)
		}
		return
	}

	if len(rest) == 1 {
		id := rest[0]
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetSyncedBlock(ctx, userID, id)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
			return
		case http.MethodPut:
			var body synced.Update
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
				return
			}
			block, err := s.service.UpdateSyncedBlock(ctx, userID, id, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, block)
			return
		case http.MethodDelete:
			if err := s.service.DeleteSyncedBlock(ctx, userID, id); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	if len(rest) == 2 && rest[1] == "references" && r.Method == http.MethodGet {
		refs, err := s.service.SyncedReferences(ctx, userID, rest[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, refs)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Route not found", nil)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// splitPath splits an escaped URL path into unescaped segments, so ids
// may contain encoded slashes.
func splitPath(escaped string) ([]string, error) {
	trimmed := strings.Trim(escaped, "/")
	if trimmed == "" {
		return nil, nil
	}
	raw := strings.Split(trimmed, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %q", p)
		}
		parts = append(parts, seg)
	}
	return parts, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, store.ErrAlreadySynced):
		return http.StatusConflict, CodeAlreadySynced, "Block is already a synced block reference", nil
	case errors.Is(err, store.ErrNotSyncedRef):
		return http.StatusConflict, CodeNotSyncedReference, "Block is not a synced block reference", nil
	case errors.Is(err, history.ErrNoHistory),
		errors.Is(err, plumbing.ErrObjectNotFound),
		errors.Is(err, plumbing.ErrReferenceNotFound):
		return http.StatusNotFound, CodeVersionNotFound, "Version not found", nil
	case errors.Is(err, history.ErrInvalidPage):
		return http.StatusBadRequest, CodeInvalidPageID, "Invalid page id", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, CodeUnsupportedFormat, "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, CodeExportUnavailable, "Export format is not available on this server", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
