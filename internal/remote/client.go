// Package remote is the HTTP client for the distill REST API. It satisfies
// the engine, synced and autosave remote interfaces.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"distill/api/internal/blocks"
	"distill/api/internal/engine"
	"distill/api/internal/logger"
	"distill/api/internal/synced"
	"distill/api/internal/trash"
	"distill/api/internal/tree"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status=%d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: status=%d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets callers test 404 responses against engine.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == engine.ErrNotFound && e.Status == http.StatusNotFound
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
	log        *logger.Logger
}

type Option func(*Client)

func WithUser(userID string) Option {
	return func(c *Client) { c.userID = userID }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(log) }
}

// New builds a client for baseURL, e.g. "http://localhost:8787".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Header returns the headers every request carries, for the realtime feed.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.userID != "" {
		h.Set("X-User-ID", c.userID)
	}
	return h
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.log.Debug("api request", "method", method, "path", path, "status", resp.StatusCode)
	return resp, nil
}

func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, target)
}

func pagePath(id string, suffix ...string) string {
	p := "/api/pages/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

func syncedPath(id string, suffix ...string) string {
	p := "/api/synced-blocks/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Health

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var result map[string]any
	if err := c.call(ctx, http.MethodGet, "/api/health", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Pages

func (c *Client) Tree(ctx context.Context) ([]*tree.Page, error) {
	var pages []*tree.Page
	if err := c.call(ctx, http.MethodGet, "/api/pages/tree", nil, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

func (c *Client) CreatePage(ctx context.Context, parentID, title string) (string, error) {
	req := struct {
		ParentID *string `json:"parentId,omitempty"`
		Title    string  `json:"title,omitempty"`
	}{ParentID: optional(parentID), Title: title}
	var result struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/pages", req, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("create page: empty id in response")
	}
	return result.ID, nil
}

func (c *Client) UpdatePage(ctx context.Context, id string, patch engine.PagePatch) error {
	return c.call(ctx, http.MethodPut, pagePath(id), patch, nil)
}

func (c *Client) ToggleCollapse(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPut, pagePath(id, "collapse"), nil, nil)
}

func (c *Client) Reorder(ctx context.Context, pageIDs []string, parentID string) error {
	req := struct {
		PageIDs  []string `json:"pageIds"`
		ParentID *string  `json:"parentId"`
	}{PageIDs: pageIDs, ParentID: optional(parentID)}
	return c.call(ctx, http.MethodPost, "/api/pages/reorder", req, nil)
}

// Trash

func (c *Client) TrashPage(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPut, pagePath(id, "trash"), nil, nil)
}

func (c *Client) RestorePage(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPut, pagePath(id, "restore"), nil, nil)
}

func (c *Client) DeletePermanent(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, pagePath(id, "permanent"), nil, nil)
}

func (c *Client) EmptyTrash(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/trash/empty", nil, nil)
}

func (c *Client) Trash(ctx context.Context) ([]trash.Entry, error) {
	var entries []trash.Entry
	if err := c.call(ctx, http.MethodGet, "/api/trash", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Blocks

func (c *Client) Blocks(ctx context.Context, pageID string) ([]blocks.Row, error) {
	var rows []blocks.Row
	if err := c.call(ctx, http.MethodGet, pagePath(pageID, "blocks"), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) SaveBlocks(ctx context.Context, pageID string, rows []blocks.Row) error {
	if rows == nil {
		rows = []blocks.Row{}
	}
	req := struct {
		Blocks []blocks.Row `json:"blocks"`
	}{Blocks: rows}
	return c.call(ctx, http.MethodPut, pagePath(pageID, "blocks", "batch"), req, nil)
}

// Synced blocks

func (c *Client) ListSyncedBlocks(ctx context.Context) ([]synced.Block, error) {
	var list []synced.Block
	if err := c.call(ctx, http.MethodGet, "/api/synced-blocks", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) GetSyncedBlock(ctx context.Context, id string) (synced.Detail, error) {
	var detail synced.Detail
	if err := c.call(ctx, http.MethodGet, syncedPath(id), nil, &detail); err != nil {
		return synced.Detail{}, err
	}
	return detail, nil
}

func (c *Client) CreateSyncedBlock(ctx context.Context, title string, content []synced.Item) (synced.Block, error) {
	req := struct {
		Title   string        `json:"title,omitempty"`
		Content []synced.Item `json:"content"`
	}{Title: title, Content: content}
	var b synced.Block
	if err := c.call(ctx, http.MethodPost, "/api/synced-blocks", req, &b); err != nil {
		return synced.Block{}, err
	}
	return b, nil
}

func (c *Client) UpdateSyncedBlock(ctx context.Context, id string, update synced.Update) (synced.Block, error) {
	var b synced.Block
	if err := c.call(ctx, http.MethodPut, syncedPath(id), update, &b); err != nil {
		return synced.Block{}, err
	}
	return b, nil
}

func (c *Client) DeleteSyncedBlock(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, syncedPath(id), nil, nil)
}

func (c *Client) ConvertToSynced(ctx context.Context, blockID string) (synced.Block, error) {
	req := struct {
		BlockID string `json:"blockId"`
	}{BlockID: blockID}
	var b synced.Block
	if err := c.call(ctx, http.MethodPost, "/api/synced-blocks/convert", req, &b); err != nil {
		return synced.Block{}, err
	}
	return b, nil
}

func (c *Client) LinkSyncedBlock(ctx context.Context, syncedBlockID, blockID string) error {
	req := struct {
		SyncedBlockID string `json:"syncedBlockId"`
		BlockID       string `json:"blockId"`
	}{SyncedBlockID: syncedBlockID, BlockID: blockID}
	return c.call(ctx, http.MethodPost, "/api/synced-blocks/link", req, nil)
}

func (c *Client) UnlinkSyncedBlock(ctx context.Context, blockID string) error {
	req := struct {
		BlockID string `json:"blockId"`
	}{BlockID: blockID}
	return c.call(ctx, http.MethodPost, "/api/synced-blocks/unlink", req, nil)
}

func (c *Client) SyncedBlockReferences(ctx context.Context, id string) ([]synced.Reference, error) {
	var refs []synced.Reference
	if err := c.call(ctx, http.MethodGet, syncedPath(id, "references"), nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// Search

type SearchHit struct {
	PageID  string `json:"pageId"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

func (c *Client) Search(ctx context.Context, query string) ([]SearchHit, error) {
	var resp struct {
		Results []SearchHit `json:"results"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(query), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

var (
	_ engine.Remote = (*Client)(nil)
	_ synced.Remote = (*Client)(nil)
)
