package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"kanban/internal/models"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the status back onto the domain error it stands for.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusForbidden:
		return models.ErrForbidden
	case http.StatusUnprocessableEntity:
		return models.ErrInvalidTarget
	case http.StatusBadRequest:
		return models.ErrInvalidInput
	}
	return nil
}

// HTTPAPI talks to the board server's JSON API.
type HTTPAPI struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewHTTPAPI creates a client for baseURL authenticating with token.
func NewHTTPAPI(baseURL, token string) *HTTPAPI {
	return &HTTPAPI{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, HTTP: &http.Client{}}
}

// Board fetches the full board.
func (c *HTTPAPI) Board(ctx context.Context, boardID int64) (models.BoardDetail, error) {
	var detail models.BoardDetail
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/boards/%d", boardID), nil, &detail)
	return detail, err
}

// MoveTask asks the server to move a task and returns the canonical task.
func (c *HTTPAPI) MoveTask(ctx context.Context, taskID, listID, index int64) (models.Task, error) {
	var out struct {
		Task models.Task `json:"task"`
	}
	body := map[string]int64{"list_id": listID, "index": index}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/move", taskID), body, &out)
	return out.Task, err
}

// CreateTask appends a task to a list.
func (c *HTTPAPI) CreateTask(ctx context.Context, listID int64, title string) (models.Task, error) {
	var out struct {
		Task models.Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/lists/%d/tasks", listID), map[string]string{"title": title}, &out)
	return out.Task, err
}

// Search runs a read-only task search on the board.
func (c *HTTPAPI) Search(ctx context.Context, boardID int64, query string, limit int) ([]models.Task, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Tasks []models.Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/boards/%d/search?%s", boardID, q.Encode()), nil, &out)
	return out.Tasks, err
}

// Activity fetches the board's audit trail, newest first.
func (c *HTTPAPI) Activity(ctx context.Context, boardID int64, limit int) ([]models.Activity, error) {
	path := fmt.Sprintf("/api/boards/%d/activity", boardID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Activity []models.Activity `json:"activity"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Activity, err
}

func (c *HTTPAPI) do(ctx context.Context, method, path string, body, out any) error {
	buf := new(bytes.Buffer)
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
