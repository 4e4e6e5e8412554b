package mailbox

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

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

const maxResponseSizeBytes = 1 << 20

var _ contractx.Channel = (*Client)(nil)

// Config is loaded with the MAILBOX prefix. Replies are awaited synchronously,
// so the timeout covers the vendor's response time.
type Config struct {
	URL     string        `split_words:"true"`
	Token   string        `split_words:"true"`
	Timeout time.Duration `split_words:"true" default:"120s"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// Client talks to the email relay that owns vendor mailboxes.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("mailbox url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("mailbox url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type openRequest struct {
	Recipient string `json:"recipient"`
}

type openResponse struct {
	ConversationID string `json:"conversation_id"`
}

type sendRequest struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// OpenConversation starts a thread with the vendor's address.
func (c *Client) OpenConversation(ctx context.Context, vendorExternalID string) (string, error) {
	recipient := strings.TrimSpace(vendorExternalID)
	if recipient == "" {
		return "", errors.New("mailbox: recipient is required")
	}

	var out openResponse
	if err := c.post(ctx, "/conversations", openRequest{Recipient: recipient}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ConversationID) == "" {
		return "", errors.New("mailbox: relay returned an empty conversation id")
	}
	return out.ConversationID, nil
}

// SendAndAwaitReply sends body and blocks until the vendor's reply arrives or
// the client timeout elapses.
func (c *Client) SendAndAwaitReply(ctx context.Context, conversationID, body string) (string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", errors.New("mailbox: conversation id is required")
	}

	var out sendResponse
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.post(ctx, path, sendRequest{Body: body}, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("mailbox: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailbox: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("mailbox: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && strings.TrimSpace(e.Error) != "" {
			return fmt.Errorf("mailbox: %s: status %d: %s", path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("mailbox: %s: status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mailbox: decode response: %w", err)
	}
	return nil
}
