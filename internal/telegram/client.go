package telegram

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
	"strconv"
	"time"
)

// ErrAPIError indicates the Bot API accepted the request but returned ok=false.
var ErrAPIError = errors.New("telegram: api error")

// Client wraps interactions with the Telegram Bot API.
type Client struct {
	baseURL     string
	token       string
	pollTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// ClientConfig collects the knobs needed to construct a Client.
type ClientConfig struct {
	BaseURL string
	Token   string
	// PollTimeout is the server-side long-poll wait passed to getUpdates.
	PollTimeout time.Duration
	// PollMargin is added on the client side so the HTTP timeout always
	// exceeds the server-side wait.
	PollMargin time.Duration
	Logger     *slog.Logger
}

// NewClient constructs a new client.
func NewClient(cfg ClientConfig) *Client {
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	margin := cfg.PollMargin
	if margin <= 0 {
		margin = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		token:       cfg.Token,
		pollTimeout: pollTimeout,
		httpClient: &http.Client{
			Timeout: pollTimeout + margin,
		},
		logger: logger,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// GetUpdates long-polls for the next batch of updates starting at offset.
// A zero offset asks for whatever the server has buffered.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(int(c.pollTimeout.Seconds())))
	if offset != 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getUpdates")+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("telegram: getUpdates decode: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("%w: getUpdates: %s", ErrAPIError, parsed.Description)
	}
	var updates []Update
	if err := json.Unmarshal(parsed.Result, &updates); err != nil {
		return nil, fmt.Errorf("telegram: getUpdates result: %w", err)
	}
	return updates, nil
}

// SendMessage sends a text message, optionally with an inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return c.post(ctx, "sendMessage", payload, nil)
}

// AnswerCallbackQuery acknowledges a button press so the client-side spinner
// disappears. Text, when non-empty, is shown as a transient notice.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
	}
	return c.post(ctx, "answerCallbackQuery", payload, nil)
}

// BanChatMember removes a member from a chat.
func (c *Client) BanChatMember(ctx context.Context, chatID, userID int64) error {
	return c.post(ctx, "banChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}, nil)
}

// GetFile resolves a file id to a downloadable file path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var file File
	if err := c.post(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// DownloadFile fetches the raw bytes behind a file path returned by GetFile.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	u := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("telegram: download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("telegram: %s decode: %w", method, err)
	}
	if !parsed.OK {
		c.logger.Warn("api call rejected", slog.String("method", method), slog.String("description", parsed.Description))
		return fmt.Errorf("%w: %s: %s", ErrAPIError, method, parsed.Description)
	}
	if result != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("telegram: %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}
