package mailcow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/mixelka/tempmailbot/internal/mailbox"
)

// Client is a Mailcow API client
type Client struct {
	baseURL    string
	apiKey     string
	domain     string
	httpClient *http.Client
}

// Config for Mailcow client
type Config struct {
	BaseURL string // e.g., https://mail.example.com
	APIKey  string
	Domain  string // domain for new mailboxes
	Timeout time.Duration
}

// CreateMailboxRequest request for creating a mailbox
type CreateMailboxRequest struct {
	LocalPart     string `json:"local_part"`
	Domain        string `json:"domain"`
	Name          string `json:"name"`
	Password      string `json:"password"`
	Password2     string `json:"password2"`
	Quota         int    `json:"quota"`
	Active        int    `json:"active"`
	ForcePWUpdate int    `json:"force_pw_update"`
	TLSEnforceIn  int    `json:"tls_enforce_in"`
	TLSEnforceOut int    `json:"tls_enforce_out"`
	IMAPAccess    int    `json:"imap_access"`
	POPAccess     int    `json:"pop3_access"`
	SMTPAccess    int    `json:"smtp_access"`
}

// APIResponse generic API response
type APIResponse struct {
	Type string `json:"type"`
	Log  []any  `json:"log"`
	Msg  any    `json:"msg"`
}

// messages flattens msg, which Mailcow sends as a string or a list
func (r APIResponse) messages() []string {
	switch v := r.Msg.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, m := range v {
			out = append(out, fmt.Sprint(m))
		}
		return out
	default:
		return nil
	}
}

// NewClient creates a new Mailcow API client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		domain:  cfg.Domain,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// IsConfigured returns true if Mailcow integration is configured
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != "" && c.domain != ""
}

// GetDomain returns the configured domain
func (c *Client) GetDomain() string {
	return c.domain
}

// CreateMailbox creates a new mailbox. An existing mailbox yields ErrConflict.
func (c *Client) CreateMailbox(ctx context.Context, localPart, name, password string, quotaMB int) error {
	if !c.IsConfigured() {
		return fmt.Errorf("mailcow not configured")
	}

	// Default quota 100MB, disposable mailboxes stay small
	if quotaMB <= 0 {
		quotaMB = 100
	}

	req := CreateMailboxRequest{
		LocalPart:     localPart,
		Domain:        c.domain,
		Name:          name,
		Password:      password,
		Password2:     password,
		Quota:         quotaMB,
		Active:        1,
		ForcePWUpdate: 0,
		TLSEnforceIn:  1,
		TLSEnforceOut: 1,
		IMAPAccess:    1,
		POPAccess:     0,
		SMTPAccess:    0,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/add/mailbox", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %v: %w", err, mailbox.ErrTransient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %v: %w", err, mailbox.ErrTransient)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("API error: %s (status %d): %w", string(respBody), resp.StatusCode, mailbox.ErrAuth)
	case resp.StatusCode >= 500:
		return fmt.Errorf("API error: %s (status %d): %w", string(respBody), resp.StatusCode, mailbox.ErrTransient)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	// Mailcow API returns an array of responses
	var apiResp []APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("failed to parse response: %w (body: %s)", err, string(respBody))
	}

	if len(apiResp) == 0 {
		return fmt.Errorf("empty response from API")
	}

	if apiResp[0].Type != "success" {
		msgs := apiResp[0].messages()
		if slices.Contains(msgs, "object_exists") {
			return fmt.Errorf("mailbox %s@%s: %w", localPart, c.domain, mailbox.ErrConflict)
		}
		errMsg := "unknown error"
		if len(msgs) > 0 {
			errMsg = strings.Join(msgs, ", ")
		}
		return fmt.Errorf("API error: %s", errMsg)
	}

	return nil
}

// GetIMAPServer returns the IMAP server for the Mailcow domain
func (c *Client) GetIMAPServer() string {
	// https://mail.example.com -> mail.example.com:993
	host := strings.TrimPrefix(c.baseURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimRight(host, "/")

	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	return host + ":993"
}
