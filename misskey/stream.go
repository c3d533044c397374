package misskey

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultReadTimeout = 10 * time.Second

// StreamConn is the subset of *websocket.Conn the session needs.
type StreamConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// StreamURL converts an instance base URL into the authenticated
// streaming endpoint (wss://host/streaming?i=token).
func StreamURL(instanceURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(instanceURL))
	if err != nil {
		return "", fmt.Errorf("parse instance url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("instance url has no host: %s", instanceURL)
	}
	switch u.Scheme {
	case "https", "wss", "":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported instance url scheme: %s", u.Scheme)
	}
	u.Path = "/streaming"
	q := url.Values{}
	q.Set("i", strings.TrimSpace(token))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialStream opens the websocket connection to the instance's
// streaming endpoint.
func DialStream(ctx context.Context, instanceURL, token string) (*websocket.Conn, error) {
	wsURL, err := StreamURL(instanceURL, token)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Session owns one live streaming connection. It is not safe for
// concurrent use; each channel pipeline owns exactly one session.
type Session struct {
	conn        StreamConn
	readTimeout time.Duration
	logger      *slog.Logger
}

func NewSession(conn StreamConn, readTimeout time.Duration, logger *slog.Logger) *Session {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{conn: conn, readTimeout: readTimeout, logger: logger}
}

// Subscribe performs the connect handshake: the main feed first (the
// instance delivers notifications only after that), then the channel
// feed when a channel id is configured.
func (s *Session) Subscribe(channelID string) error {
	if err := s.conn.WriteJSON(MainConnectMessage()); err != nil {
		return fmt.Errorf("subscribe main feed: %w", err)
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil
	}
	if err := s.conn.WriteJSON(ChannelConnectMessage(channelID)); err != nil {
		return fmt.Errorf("subscribe channel %s: %w", channelID, err)
	}
	return nil
}

type readResult struct {
	raw []byte
	err error
}

// Consume blocks on the connection and hands every decoded frame to
// handler, sequentially. When no frame arrives within the read timeout
// it sends a heartbeat and keeps waiting; that is not an error. It
// returns ctx.Err() on cancellation (closing the connection so the
// blocked read unwinds) and the transport error otherwise. Malformed
// frames are dropped.
func (s *Session) Consume(ctx context.Context, handler func(StreamFrame)) error {
	// Closed on every return path so the reader never stays blocked on
	// an undrained send after the consume loop has exited.
	done := make(chan struct{})
	defer close(done)

	results := make(chan readResult)
	go func() {
		for {
			_, raw, err := s.conn.ReadMessage()
			select {
			case results <- readResult{raw: raw, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTimer(s.readTimeout)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
			return ctx.Err()
		case <-heartbeat.C:
			if err := s.conn.WriteJSON(HeartbeatMessage()); err != nil {
				return fmt.Errorf("send heartbeat: %w", err)
			}
			heartbeat.Reset(s.readTimeout)
		case res := <-results:
			if res.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return res.err
			}
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(s.readTimeout)

			frame, err := DecodeFrame(res.raw)
			if err != nil {
				s.logger.Debug("misskey_frame_decode_error", "error", err.Error())
				continue
			}
			handler(frame)
		}
	}
}
