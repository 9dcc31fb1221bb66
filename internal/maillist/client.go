// Package maillist manages mailing-list membership through the list
// manager's admin web interface. The manager exposes no JSON API, so
// membership writes are form posts and reads scrape the roster pages.
package maillist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"portal-conductor/internal/domain"
)

// rosterLetters are the index pages the admin interface splits large
// rosters into, one page per leading character of the member address.
const rosterLetters = "abcdefghijklmnopqrstuvwxyz0123456789"

// memberPattern matches addresses in the roster HTML.
var memberPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Config holds the list-manager connection settings.
type Config struct {
	URL           string
	AdminPassword string
	Timeout       time.Duration
}

// Client drives the list manager's admin interface.
type Client struct {
	baseURL  string
	password string
	http     *http.Client
	logger   *slog.Logger
}

var _ domain.MailingLists = (*Client)(nil)

// NewClient creates a list-manager client rooted at cfg.URL, which should
// point at the admin CGI root (the path containing the per-list admin
// pages).
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		password: cfg.AdminPassword,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// AddMember subscribes the address without an invitation or welcome
// message. Subscribing an existing member is accepted by the manager and
// leaves membership unchanged.
func (c *Client) AddMember(ctx context.Context, list, email string) error {
	form := url.Values{
		"subscribe_or_invite":              {"0"},
		"send_welcome_msg_to_this_batch":   {"0"},
		"send_notifications_to_list_owner": {"0"},
		"subscribees":                      {email},
		"adminpw":                          {c.password},
	}
	return c.postForm(ctx, list, "members/add", form)
}

// RemoveMember unsubscribes the address without acknowledgment messages.
// Removing a non-member is accepted by the manager, so the call is safe on
// already-clean lists.
func (c *Client) RemoveMember(ctx context.Context, list, email string) error {
	form := url.Values{
		"send_unsub_ack_to_this_batch":           {"0"},
		"send_unsub_notifications_to_list_owner": {"0"},
		"unsubscribees":                          {email},
		"adminpw":                                {c.password},
	}
	return c.postForm(ctx, list, "members/remove", form)
}

// MemberExists scrapes the roster page that would hold the address and
// looks for it verbatim.
func (c *Client) MemberExists(ctx context.Context, list, email string) (bool, error) {
	letter := rosterLetter(email)
	page, err := c.rosterPage(ctx, list, letter)
	if err != nil {
		return false, err
	}
	needle := strings.ToLower(email)
	for _, member := range extractMembers(page) {
		if member == needle {
			return true, nil
		}
	}
	return false, nil
}

// ListMembers walks every roster index page and collects the addresses.
// Individual page failures are logged and skipped so one bad page does not
// hide the rest of the roster.
func (c *Client) ListMembers(ctx context.Context, list string) ([]string, error) {
	seen := map[string]bool{}
	failures := 0
	for _, letter := range rosterLetters {
		page, err := c.rosterPage(ctx, list, string(letter))
		if err != nil {
			failures++
			c.logger.Warn("roster page fetch failed", "list", list, "letter", string(letter), "error", err)
			continue
		}
		for _, member := range extractMembers(page) {
			seen[member] = true
		}
	}
	if failures == len(rosterLetters) {
		return nil, domain.ErrServiceUnavailable("no roster page of list %s could be fetched", list)
	}

	members := make([]string, 0, len(seen))
	for m := range seen {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// rosterLetter picks the index page for an address: its first character
// when that is a roster letter, otherwise "a" as the manager does for
// unusual addresses.
func rosterLetter(email string) string {
	if email == "" {
		return "a"
	}
	first := strings.ToLower(email[:1])
	if strings.Contains(rosterLetters, first) {
		return first
	}
	return "a"
}

// extractMembers pulls lowercase addresses out of roster HTML, dropping
// duplicates while preserving page order.
func extractMembers(page string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range memberPattern.FindAllString(page, -1) {
		addr := strings.ToLower(m)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func (c *Client) rosterPage(ctx context.Context, list, letter string) (string, error) {
	u := fmt.Sprintf("%s/%s/members?letter=%s&adminpw=%s",
		c.baseURL, url.PathEscape(list), letter, url.QueryEscape(c.password))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build roster request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", domain.ErrServiceUnavailable("list manager unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", c.statusError(resp.StatusCode, list)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", domain.ErrUpstream(resp.StatusCode, "read roster page: %v", err)
	}
	return string(data), nil
}

func (c *Client) postForm(ctx context.Context, list, action string, form url.Values) error {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(list), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build list manager request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ErrServiceUnavailable("list manager unreachable: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return c.statusError(resp.StatusCode, list)
	}
	return nil
}

func (c *Client) statusError(status int, list string) error {
	switch status {
	case http.StatusNotFound:
		return domain.ErrNotFound("mailing list %s not found", list)
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrAuth("list manager rejected the admin password for %s", list)
	default:
		return domain.ErrUpstream(status, "list manager returned %d for %s", status, list)
	}
}
