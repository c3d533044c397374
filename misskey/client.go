package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/huaerlab/huaer/internal/retryutil"
)

const (
	createNoteMaxAttempts = 5
	createNoteRetryDelay  = 1 * time.Second
	createNoteRetryStep   = 2 * time.Second
)

// APIError is a non-transient failure reported by the Misskey API.
// Callers must not retry it.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	code := strings.TrimSpace(e.Code)
	if code == "" {
		code = "unknown_error"
	}
	if strings.TrimSpace(e.Message) != "" {
		return fmt.Sprintf("misskey api %d (%s): %s", e.StatusCode, code, e.Message)
	}
	return fmt.Sprintf("misskey api %d (%s)", e.StatusCode, code)
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
	retryStep   time.Duration
}

func NewClient(httpClient *http.Client, instanceURL, token string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(strings.TrimSpace(instanceURL), "/"),
		token:       strings.TrimSpace(token),
		logger:      logger,
		maxAttempts: createNoteMaxAttempts,
		retryDelay:  createNoteRetryDelay,
		retryStep:   createNoteRetryStep,
	}
}

type CreateNoteRequest struct {
	Text       string
	Visibility string
	ReplyID    string
	ChannelID  string
	CW         string
}

type createNotePayload struct {
	Token      string `json:"i"`
	Text       string `json:"text"`
	Visibility string `json:"visibility"`
	ReplyID    string `json:"replyId,omitempty"`
	ChannelID  string `json:"channelId,omitempty"`
	CW         string `json:"cw,omitempty"`
}

type createNoteResponse struct {
	CreatedNote struct {
		ID string `json:"id"`
	} `json:"createdNote"`
}

// CreateNote posts a note and returns the created note id. Transient
// transport failures are retried up to createNoteMaxAttempts with a
// linearly growing delay; an APIError aborts immediately.
func (c *Client) CreateNote(ctx context.Context, req CreateNoteRequest) (string, error) {
	if c == nil || c.http == nil {
		return "", fmt.Errorf("misskey client is not initialized")
	}
	if c.token == "" {
		return "", fmt.Errorf("misskey api token is required")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", fmt.Errorf("note text is required")
	}
	visibility := strings.TrimSpace(req.Visibility)
	if visibility == "" {
		visibility = "public"
	}

	payload := createNotePayload{
		Token:      c.token,
		Text:       text,
		Visibility: visibility,
		ReplyID:    strings.TrimSpace(req.ReplyID),
		ChannelID:  strings.TrimSpace(req.ChannelID),
		CW:         strings.TrimSpace(req.CW),
	}

	backoff := retryutil.Linear{Initial: c.retryDelay, Step: c.retryStep}
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		raw, err := c.postJSON(ctx, "/api/notes/create", payload)
		if err == nil {
			var out createNoteResponse
			if decodeErr := json.Unmarshal(raw, &out); decodeErr != nil {
				return "", fmt.Errorf("decode create note response: %w", decodeErr)
			}
			if out.CreatedNote.ID == "" {
				return "", fmt.Errorf("create note response has no note id")
			}
			return out.CreatedNote.ID, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", err
		}
		lastErr = err
		if attempt >= c.maxAttempts {
			break
		}
		delay := backoff.Next()
		c.logger.Warn("misskey_create_note_retry", "attempt", attempt, "retry_in", delay.String(), "error", err.Error())
		if serr := retryutil.Sleep(ctx, delay); serr != nil {
			return "", serr
		}
	}
	return "", fmt.Errorf("create note failed after %d attempts: %w", c.maxAttempts, lastErr)
}

type conversationPayload struct {
	NoteID string `json:"noteId"`
}

// Conversation fetches the ancestor chain of a note, newest first.
func (c *Client) Conversation(ctx context.Context, noteID string) ([]Note, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("misskey client is not initialized")
	}
	noteID = strings.TrimSpace(noteID)
	if noteID == "" {
		return nil, fmt.Errorf("note id is required")
	}
	raw, err := c.postJSON(ctx, "/api/notes/conversation", conversationPayload{NoteID: noteID})
	if err != nil {
		return nil, err
	}
	var notes []Note
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil, fmt.Errorf("decode conversation response: %w", err)
	}
	return notes, nil
}

type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var out apiErrorResponse
		if err := json.Unmarshal(raw, &out); err == nil {
			apiErr.Code = out.Error.Code
			apiErr.Message = out.Error.Message
		}
		return nil, apiErr
	}
	return raw, nil
}
