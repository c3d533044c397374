package misskey

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastClient(httpClient *http.Client, baseURL string) *Client {
	c := NewClient(httpClient, baseURL, "token", nil)
	c.retryDelay = time.Millisecond
	c.retryStep = time.Millisecond
	return c
}

func TestCreateNote_Success(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notes/create" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotPayload)
		_, _ = w.Write([]byte(`{"createdNote":{"id":"note_1"}}`))
	}))
	defer srv.Close()

	c := fastClient(srv.Client(), srv.URL)
	id, err := c.CreateNote(context.Background(), CreateNoteRequest{
		Text:    "@alice hi",
		ReplyID: "n0",
	})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	if id != "note_1" {
		t.Fatalf("CreateNote() id = %s, want note_1", id)
	}
	if gotPayload["i"] != "token" || gotPayload["text"] != "@alice hi" {
		t.Fatalf("unexpected payload: %+v", gotPayload)
	}
	if gotPayload["visibility"] != "public" {
		t.Fatalf("expected default public visibility, got %v", gotPayload["visibility"])
	}
	if gotPayload["replyId"] != "n0" {
		t.Fatalf("expected replyId n0, got %v", gotPayload["replyId"])
	}
}

type flakyTransport struct {
	failures int32
	calls    int32
	respond  func() *http.Response
}

func (tr *flakyTransport) RoundTrip(*http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&tr.calls, 1)
	if n <= atomic.LoadInt32(&tr.failures) {
		return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}
	return tr.respond(), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestCreateNote_RetriesTransientFailures(t *testing.T) {
	tr := &flakyTransport{
		failures: 2,
		respond:  func() *http.Response { return jsonResponse(200, `{"createdNote":{"id":"note_2"}}`) },
	}
	c := fastClient(&http.Client{Transport: tr}, "https://misskey.example")

	id, err := c.CreateNote(context.Background(), CreateNoteRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	if id != "note_2" {
		t.Fatalf("CreateNote() id = %s, want note_2", id)
	}
	if got := atomic.LoadInt32(&tr.calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestCreateNote_ExhaustsRetryBudget(t *testing.T) {
	tr := &flakyTransport{failures: 100}
	c := fastClient(&http.Client{Transport: tr}, "https://misskey.example")

	_, err := c.CreateNote(context.Background(), CreateNoteRequest{Text: "hi"})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&tr.calls); got != createNoteMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", createNoteMaxAttempts, got)
	}
}

func TestCreateNote_NoRetryOnAPIError(t *testing.T) {
	tr := &flakyTransport{
		respond: func() *http.Response {
			return jsonResponse(400, `{"error":{"code":"INVALID_PARAM","message":"text too long"}}`)
		},
	}
	c := fastClient(&http.Client{Transport: tr}, "https://misskey.example")

	_, err := c.CreateNote(context.Background(), CreateNoteRequest{Text: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CreateNote() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Code != "INVALID_PARAM" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if got := atomic.LoadInt32(&tr.calls); got != 1 {
		t.Fatalf("validation errors must not be retried; got %d attempts", got)
	}
}

func TestConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notes/conversation" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var payload map[string]string
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &payload)
		if payload["noteId"] != "n9" {
			t.Errorf("expected noteId n9, got %q", payload["noteId"])
		}
		_, _ = w.Write([]byte(`[
			{"id":"n8","text":"newest","userId":"u1","user":{"id":"u1","username":"alice"}},
			{"id":"n7","text":"older","userId":"bot","user":{"id":"bot","username":"huaer"}}
		]`))
	}))
	defer srv.Close()

	c := fastClient(srv.Client(), srv.URL)
	notes, err := c.Conversation(context.Background(), "n9")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].ID != "n8" || notes[1].UserID != "bot" {
		t.Fatalf("unexpected notes: %+v", notes)
	}
}
