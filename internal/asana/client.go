// Package asana is a read-only client for the parts of the Asana REST API the
// sync job needs: project tasks and task stories.
package asana

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://app.asana.com/api/1.0"

const pageSize = 100

var taskFields = strings.Join([]string{
	"gid",
	"name",
	"completed",
	"completed_at",
	"created_at",
	"modified_at",
	"due_on",
	"permalink_url",
	"assignee.name",
	"memberships.project.gid",
	"memberships.section.name",
}, ",")

var storyFields = strings.Join([]string{
	"gid",
	"created_at",
	"resource_subtype",
	"text",
	"new_section.name",
	"old_section.name",
}, ",")

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is returned for any 4xx/5xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("asana API error (%d): %s", e.StatusCode, e.Body)
}

type page[T any] struct {
	Data     []T `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
}

// ListProjectTasks returns every task in the project, following pagination.
// When modifiedSince is set only tasks modified after it are returned.
func (c *Client) ListProjectTasks(ctx context.Context, projectGID string, modifiedSince *time.Time) ([]Task, error) {
	query := url.Values{}
	query.Set("project", projectGID)
	query.Set("opt_fields", taskFields)
	if modifiedSince != nil {
		query.Set("modified_since", modifiedSince.UTC().Format(time.RFC3339))
	}

	return list[Task](ctx, c, "/tasks", query)
}

// ListTaskStories returns the task's stories oldest first, as Asana orders them.
func (c *Client) ListTaskStories(ctx context.Context, taskGID string) ([]Story, error) {
	query := url.Values{}
	query.Set("opt_fields", storyFields)

	return list[Story](ctx, c, "/tasks/"+url.PathEscape(taskGID)+"/stories", query)
}

func list[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	query.Set("limit", fmt.Sprintf("%d", pageSize))

	var all []T
	for {
		var p page[T]
		if err := c.get(ctx, path, query, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Data...)

		if p.NextPage == nil || p.NextPage.Offset == "" {
			break
		}
		query.Set("offset", p.NextPage.Offset)
	}

	return all, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("asana request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read asana response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode asana response: %w", err)
	}

	return nil
}
