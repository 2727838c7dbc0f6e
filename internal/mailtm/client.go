package mailtm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mixelka/tempmailbot/internal/mailbox"
	"github.com/mixelka/tempmailbot/pkg/models"
)

// DefaultBaseURL is the public mail.tm API
const DefaultBaseURL = "https://api.mail.tm"

// Client is a mail.tm API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config for mail.tm client
type Config struct {
	BaseURL string
	Timeout time.Duration
}

type domain struct {
	Domain   string `json:"domain"`
	IsActive bool   `json:"isActive"`
}

type address struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type message struct {
	ID        string    `json:"id"`
	From      address   `json:"from"`
	Subject   string    `json:"subject"`
	Intro     string    `json:"intro"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text"`
	HTML      []string  `json:"html"`
}

type collection[T any] struct {
	Members []T `json:"hydra:member"`
}

type credentials struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

type tokenResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// apiError is the error body returned by the API
type apiError struct {
	Message     string `json:"message"`
	Detail      string `json:"detail"`
	Description string `json:"hydra:description"`
}

// NewClient creates a new mail.tm API client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ListDomains returns the active domains offered for new accounts
func (c *Client) ListDomains(ctx context.Context) ([]string, error) {
	var resp collection[domain]
	if err := c.do(ctx, http.MethodGet, "/domains", "", nil, &resp); err != nil {
		return nil, err
	}

	domains := make([]string, 0, len(resp.Members))
	for _, d := range resp.Members {
		if d.IsActive && d.Domain != "" {
			domains = append(domains, d.Domain)
		}
	}
	return domains, nil
}

// CreateAccount registers a new mailbox
func (c *Client) CreateAccount(ctx context.Context, addr, password string) error {
	return c.do(ctx, http.MethodPost, "/accounts", "", credentials{Address: addr, Password: password}, nil)
}

// IssueToken exchanges credentials for a bearer token
func (c *Client) IssueToken(ctx context.Context, addr, password string) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token", "", credentials{Address: addr, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("empty token in response: %w", mailbox.ErrAuth)
	}
	return resp.Token, nil
}

// ListMessages returns the first page of the inbox, newest first
func (c *Client) ListMessages(ctx context.Context, token string) ([]models.MessageSummary, error) {
	var resp collection[message]
	if err := c.do(ctx, http.MethodGet, "/messages", token, nil, &resp); err != nil {
		return nil, err
	}

	summaries := make([]models.MessageSummary, 0, len(resp.Members))
	for _, m := range resp.Members {
		summaries = append(summaries, m.summary())
	}
	return summaries, nil
}

// FetchMessage returns a full message
func (c *Client) FetchMessage(ctx context.Context, token, id string) (*models.MessageDetail, error) {
	var m message
	if err := c.do(ctx, http.MethodGet, "/messages/"+id, token, nil, &m); err != nil {
		return nil, err
	}

	return &models.MessageDetail{
		MessageSummary: m.summary(),
		Text:           m.Text,
		HTML:           strings.Join(m.HTML, "\n"),
	}, nil
}

// DeleteMessage deletes a message
func (c *Client) DeleteMessage(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+id, token, nil, nil)
}

func (m message) summary() models.MessageSummary {
	return models.MessageSummary{
		ID:        m.ID,
		From:      m.From.Address,
		FromName:  m.From.Name,
		Subject:   m.Subject,
		Intro:     m.Intro,
		CreatedAt: m.CreatedAt,
		Seen:      m.Seen,
	}
}

// do sends a request and decodes the JSON response into out
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/ld+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, mailbox.ErrTransient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %v: %w", err, mailbox.ErrTransient)
	}

	if err := statusError(resp.StatusCode, respBody); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// statusError maps HTTP status codes onto the provider error classes
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := errorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s (status %d): %w", msg, status, mailbox.ErrAuth)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s (status %d): %w", msg, status, mailbox.ErrNotFound)
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s (status %d): %w", msg, status, mailbox.ErrConflict)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%s (status %d): %w", msg, status, mailbox.ErrTransient)
	default:
		return fmt.Errorf("API error: %s (status %d)", msg, status)
	}
}

func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil {
		for _, msg := range []string{e.Description, e.Detail, e.Message} {
			if msg != "" {
				return msg
			}
		}
	}
	if len(body) > 0 {
		return strings.TrimSpace(string(body))
	}
	return "empty response"
}

var _ mailbox.Provider = (*Client)(nil)
