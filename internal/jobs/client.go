package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portal-conductor/internal/domain"
)

// deletionPrefix names submitted deletion jobs. The full submission name is
// "<prefix>-<username>-<unix timestamp>" so concurrent submissions for the
// same user remain distinguishable in the backend.
const deletionPrefix = "delete-user"

// Client talks to the batch-job backend. Every request fetches a bearer
// token from the cache first; a 401 is treated as a hard error rather than
// retried, since the cache's safety margin makes a stale token unlikely.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenCache
	logger  *slog.Logger

	now func() time.Time
}

var _ domain.JobService = (*Client)(nil)

// NewClient creates a job-backend client rooted at baseURL.
func NewClient(baseURL string, tokens *TokenCache, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger,
		now:     time.Now,
	}
}

type appListing struct {
	Apps []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"apps"`
}

// FindAppID searches the system's apps for one matching appName. A
// case-sensitive exact match wins; otherwise the first case-insensitive
// match is used. Returns an empty id when nothing matches.
func (c *Client) FindAppID(ctx context.Context, systemID, appName string) (string, error) {
	q := url.Values{"search": {appName}}
	var listing appListing
	if err := c.get(ctx, &listing, q, "apps", systemID); err != nil {
		return "", err
	}

	folded := ""
	for _, app := range listing.Apps {
		if app.Name == appName {
			return app.ID, nil
		}
		if folded == "" && strings.EqualFold(app.Name, appName) {
			folded = app.ID
		}
	}
	return folded, nil
}

type parameterListing struct {
	Groups []domain.AppParameterGroup `json:"groups"`
}

// UsernameParameterID selects the app parameter that should receive the
// target username. The backend has no canonical "identity parameter" flag,
// so selection follows an ordered tie-break policy:
//
//  1. a parameter whose label contains "username" or "user name",
//  2. else the first visible, required, unlabeled text parameter without
//     a default value,
//  3. else the last visible and required parameter.
//
// The third fallback can silently pick the wrong parameter if the app
// template changes shape, so choosing it is logged as a warning.
func (c *Client) UsernameParameterID(ctx context.Context, systemID, appID string) (string, error) {
	var listing parameterListing
	if err := c.get(ctx, &listing, nil, "apps", systemID, appID, "parameters"); err != nil {
		return "", err
	}

	id, degraded := selectUsernameParameter(listing.Groups)
	if id == "" {
		return "", domain.ErrConfiguration("app %s declares no parameter that can receive a username", appID)
	}
	if degraded {
		c.logger.Warn("no username-labeled parameter found, falling back to last visible required parameter",
			"app_id", appID, "parameter_id", id)
	}
	return id, nil
}

// selectUsernameParameter applies the ordered tie-break policy over all
// parameter groups. degraded reports that the last-resort rule was used.
func selectUsernameParameter(groups []domain.AppParameterGroup) (id string, degraded bool) {
	var unlabeled, last string
	for _, group := range groups {
		for _, p := range group.Parameters {
			label := strings.ToLower(p.Label)
			if strings.Contains(label, "username") || strings.Contains(label, "user name") {
				return p.ID, false
			}
			if !p.Visible || !p.Required {
				continue
			}
			last = p.ID
			if unlabeled == "" && p.Label == "" && isTextType(p.Type) && !hasDefault(p.DefaultValue) {
				unlabeled = p.ID
			}
		}
	}
	if unlabeled != "" {
		return unlabeled, false
	}
	return last, last != ""
}

func isTextType(t string) bool {
	return strings.EqualFold(t, "text")
}

func hasDefault(v any) bool {
	switch d := v.(type) {
	case nil:
		return false
	case string:
		return d != ""
	default:
		return true
	}
}

type submission struct {
	Name   string            `json:"name"`
	Config map[string]string `json:"config"`
}

type submissionResult struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Username string `json:"username"`
}

// SubmitDeletionJob launches the deletion app with the username as its sole
// parameter. The job backend performs the actual teardown outside this
// process's lifetime.
func (c *Client) SubmitDeletionJob(ctx context.Context, systemID, appID, parameterID, username string) (*domain.Job, error) {
	now := c.now()
	body := submission{
		Name:   fmt.Sprintf("%s-%s-%d", deletionPrefix, username, now.Unix()),
		Config: map[string]string{parameterID: username},
	}

	var result submissionResult
	if err := c.post(ctx, body, &result, "app", "launch", systemID, appID); err != nil {
		return nil, err
	}

	status := domain.JobStatus(result.Status)
	if status == "" {
		status = domain.JobSubmitted
	}
	c.logger.Info("deletion job submitted", "username", username, "job_id", result.ID, "status", status)
	return &domain.Job{
		ID:          result.ID,
		Username:    username,
		Status:      status,
		SubmittedAt: now,
	}, nil
}

type statusResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Name   string `json:"name"`
}

// JobStatus fetches the live status of a job. The backend is the sole
// source of truth, so nothing is cached locally.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	var result statusResult
	if err := c.get(ctx, &result, nil, "apps", "analyses", jobID, "status"); err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return nil, domain.ErrNotFound("deletion job %q is unknown to the job service", jobID)
		}
		return nil, err
	}
	return &domain.Job{
		ID:       jobID,
		Username: usernameFromSubmissionName(result.Name),
		Status:   domain.JobStatus(result.Status),
	}, nil
}

type jobListing struct {
	Analyses []statusResult `json:"analyses"`
}

// ListJobs fetches jobs from the backend, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statusFilter string) ([]domain.Job, error) {
	q := url.Values{}
	if statusFilter != "" {
		q.Set("status", statusFilter)
	}
	var listing jobListing
	if err := c.get(ctx, &listing, q, "analyses"); err != nil {
		return nil, err
	}

	out := make([]domain.Job, 0, len(listing.Analyses))
	for _, a := range listing.Analyses {
		out = append(out, domain.Job{
			ID:       a.ID,
			Username: usernameFromSubmissionName(a.Name),
			Status:   domain.JobStatus(a.Status),
		})
	}
	return out, nil
}

// usernameFromSubmissionName recovers the target username from a
// "<prefix>-<username>-<timestamp>" submission name. Returns "" when the
// name does not follow the convention.
func usernameFromSubmissionName(name string) string {
	rest, ok := strings.CutPrefix(name, deletionPrefix+"-")
	if !ok {
		return ""
	}
	i := strings.LastIndex(rest, "-")
	if i <= 0 {
		return ""
	}
	for _, r := range rest[i+1:] {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return rest[:i]
}

func (c *Client) get(ctx context.Context, out any, query url.Values, parts ...string) error {
	return c.do(ctx, http.MethodGet, nil, out, query, parts...)
}

func (c *Client) post(ctx context.Context, in, out any, parts ...string) error {
	return c.do(ctx, http.MethodPost, in, out, nil, parts...)
}

func (c *Client) do(ctx context.Context, method string, in, out any, query url.Values, parts ...string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	u, err := url.JoinPath(c.baseURL, parts...)
	if err != nil {
		return fmt.Errorf("build job service url: %w", err)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode job service request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build job service request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ErrServiceUnavailable("job service unreachable: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrAuth("job service rejected the bearer token")
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound("job service: %s not found", req.URL.Path)
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.ErrUpstream(resp.StatusCode, "job service %s %s: %s: %s",
			method, req.URL.Path, resp.Status, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode job service response: %w", err)
	}
	return nil
}
