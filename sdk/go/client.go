package hubtracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hubtrack/internal/domain"
	"hubtrack/internal/events"
	"hubtrack/internal/notify"
)

// Client is a minimal Go client for the hubtrack API.
type Client struct {
	// BaseURL includes the API base path, e.g. http://localhost:8080/api.
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: 15 * time.Second,
	}
}

// Me is the signed-in principal as seen by the server.
type Me struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Label       string `json:"label"`
	Authorized  bool   `json:"authorized"`
	Source      string `json:"source"`
}

// Principal converts the response into a domain principal.
func (m Me) Principal() domain.Principal {
	return domain.Principal{UID: m.UID, DisplayName: m.DisplayName, Email: m.Email}
}

// NewIssue is the create-issue payload.
type NewIssue struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Category    domain.Category `json:"category,omitempty"`
}

// IssueEdit carries the fields to change; nil fields are left alone.
type IssueEdit struct {
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
	Category    *domain.Category    `json:"category,omitempty"`
	Status      *domain.IssueStatus `json:"status,omitempty"`
}

// NewInnovation is the create-innovation payload.
type NewInnovation struct {
	Title           string                  `json:"title"`
	Problem         string                  `json:"problem,omitempty"`
	CurrentSolution string                  `json:"currentSolution,omitempty"`
	Link            string                  `json:"link,omitempty"`
	Status          domain.InnovationStatus `json:"status,omitempty"`
	StartDate       *time.Time              `json:"startDate,omitempty"`
	EndDate         *time.Time              `json:"endDate,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Code returns the error code from the response envelope, if any.
func (e *APIError) Code() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil {
		return ""
	}
	return env.Error.Code
}

// Message returns the human readable error message, falling back to the body.
func (e *APIError) Message() string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil || env.Error.Message == "" {
		return strings.TrimSpace(e.Body)
	}
	return env.Error.Message
}

// IsNotPermitted reports whether err is a move the server refused because
// the caller is neither reporter nor assignee.
func IsNotPermitted(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden && apiErr.Code() == "not_permitted"
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// Me returns the principal behind the bearer token.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Verify resolves token to its principal by asking the server, so a
// Client can back an identity.TokenProvider without the signing secret.
func (c *Client) Verify(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, errors.New("empty token")
	}
	cp := *c
	cp.BearerToken = token
	me, err := cp.Me(ctx)
	if err != nil {
		return domain.Principal{}, err
	}
	return me.Principal(), nil
}

// DevLogin mints a development token. The server must run with dev login enabled.
func (c *Client) DevLogin(ctx context.Context, p domain.Principal) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "auth/dev/login", p, &resp)
	return resp.Token, err
}

// CreateIssue reports a new issue.
func (c *Client) CreateIssue(ctx context.Context, in NewIssue) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, "issues", in, &resp)
	return resp, err
}

// ListIssues returns one of the issue views: active, resolved or archived.
func (c *Client) ListIssues(ctx context.Context, view string) ([]domain.Issue, error) {
	endpoint := "issues"
	if view != "" {
		endpoint += "?view=" + url.QueryEscape(view)
	}
	var resp struct {
		Items []domain.Issue `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetIssue fetches an issue by id.
func (c *Client) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodGet, issuePath(id, ""), nil, &resp)
	return resp, err
}

// UpdateIssue edits an issue. Title, description and category edits need
// an allow-listed caller.
func (c *Client) UpdateIssue(ctx context.Context, id string, edit IssueEdit) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPatch, issuePath(id, ""), edit, &resp)
	return resp, err
}

// SetIssueStatus is the direct status selection; no participant check.
func (c *Client) SetIssueStatus(ctx context.Context, id string, status domain.IssueStatus) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPut, issuePath(id, "status"), map[string]any{"status": status}, &resp)
	return resp, err
}

// MoveIssue is the drag-and-drop move; only the reporter or an assignee may.
func (c *Client) MoveIssue(ctx context.Context, id string, status domain.IssueStatus) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, issuePath(id, "move"), map[string]any{"status": status}, &resp)
	return resp, err
}

// JoinIssue adds the caller as an assignee.
func (c *Client) JoinIssue(ctx context.Context, id string) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, issuePath(id, "assignees"), nil, &resp)
	return resp, err
}

func (c *Client) ArchiveIssue(ctx context.Context, id string) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodPost, issuePath(id, "archive"), nil, &resp)
	return resp, err
}

func (c *Client) UnarchiveIssue(ctx context.Context, id string) (domain.Issue, error) {
	var resp domain.Issue
	err := c.do(ctx, http.MethodDelete, issuePath(id, "archive"), nil, &resp)
	return resp, err
}

// DeleteIssue permanently removes an issue.
func (c *Client) DeleteIssue(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, issuePath(id, ""), nil, nil)
}

// CreateInnovation records an innovation. When the server returns a
// partial_write error the record exists but the creator was not added.
func (c *Client) CreateInnovation(ctx context.Context, in NewInnovation) (domain.Innovation, error) {
	var resp domain.Innovation
	err := c.do(ctx, http.MethodPost, "innovations", in, &resp)
	return resp, err
}

// ListInnovations returns innovations, newest start date first.
func (c *Client) ListInnovations(ctx context.Context, archived bool) ([]domain.Innovation, error) {
	var resp struct {
		Items []domain.Innovation `json:"items"`
	}
	endpoint := "innovations?archived=" + strconv.FormatBool(archived)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetInnovation(ctx context.Context, id string) (domain.Innovation, error) {
	var resp domain.Innovation
	err := c.do(ctx, http.MethodGet, innovationPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) SetInnovationStatus(ctx context.Context, id string, status domain.InnovationStatus) (domain.Innovation, error) {
	var resp domain.Innovation
	err := c.do(ctx, http.MethodPut, innovationPath(id, "status"), map[string]any{"status": status}, &resp)
	return resp, err
}

// JoinInnovation adds the caller as a participant.
func (c *Client) JoinInnovation(ctx context.Context, id string) (domain.Innovation, error) {
	var resp domain.Innovation
	err := c.do(ctx, http.MethodPost, innovationPath(id, "participants"), nil, &resp)
	return resp, err
}

// UpdateSolution replaces the current solution text.
func (c *Client) UpdateSolution(ctx context.Context, id, text string) (domain.Innovation, error) {
	var resp domain.Innovation
	err := c.do(ctx, http.MethodPut, innovationPath(id, "solution"), map[string]any{"text": text}, &resp)
	return resp, err
}

func (c *Client) ArchiveInnovation(ctx context.Context, id string) (domain.Innovation, error) {
	var resp domain.Innovation
	err := c.do(ctx, http.MethodPost, innovationPath(id, "archive"), nil, &resp)
	return resp, err
}

func (c *Client) UnarchiveInnovation(ctx context.Context, id string) (domain.Innovation, error) {
	var resp domain.Innovation
	err := c.do(ctx, http.MethodDelete, innovationPath(id, "archive"), nil, &resp)
	return resp, err
}

// DeleteInnovation permanently removes an innovation and its comments.
func (c *Client) DeleteInnovation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, innovationPath(id, ""), nil, nil)
}

// ListComments returns an innovation's comments, oldest first.
func (c *Client) ListComments(ctx context.Context, innovationID string) ([]domain.Comment, error) {
	var resp struct {
		Items []domain.Comment `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, innovationPath(innovationID, "comments"), nil, &resp)
	return resp.Items, err
}

func (c *Client) AddComment(ctx context.Context, innovationID, text string) (domain.Comment, error) {
	var resp domain.Comment
	err := c.do(ctx, http.MethodPost, innovationPath(innovationID, "comments"), map[string]any{"text": text}, &resp)
	return resp, err
}

// Events returns the activity log tail, optionally for one record.
func (c *Client) Events(ctx context.Context, entityID string, limit int) ([]events.Event, error) {
	q := url.Values{}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []events.Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Notify posts a message to the server's notification endpoint.
func (c *Client) Notify(ctx context.Context, msg notify.Message) error {
	nc := notify.Client{Endpoint: c.base() + "/notify", HTTPClient: c.httpClient()}
	return nc.Post(ctx, msg)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func issuePath(id, sub string) string {
	return recordPath("issues", id, sub)
}

func innovationPath(id, sub string) string {
	return recordPath("innovations", id, sub)
}

func recordPath(collection, id, sub string) string {
	p := collection + "/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
