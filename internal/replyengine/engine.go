package replyengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/huaerlab/huaer/internal/retryutil"
	"github.com/huaerlab/huaer/llm"
)

const (
	completionMaxAttempts = 3
	defaultAttemptPause   = 1 * time.Second
)

type Config struct {
	Model           string
	Persona         string
	MaxOutputTokens int
	Cooldown        time.Duration

	// AttemptPause is the wait between failed completion attempts.
	AttemptPause time.Duration
}

// Engine turns a conversation context into reply text. One engine per
// channel; it is driven by that channel's single worker goroutine, so
// no locking is needed around the cooldown state.
type Engine struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	cooldownUntil time.Time
}

func New(client llm.Client, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AttemptPause <= 0 {
		cfg.AttemptPause = defaultAttemptPause
	}
	return &Engine{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CooldownUntil reports when the next completion call is nominally
// permitted. The value never decreases.
func (e *Engine) CooldownUntil() time.Time {
	return e.cooldownUntil
}

// Reply calls the completion backend for the given context and returns
// the trimmed reply text. The cooldown is advisory: a call inside the
// cooldown window is logged but never blocked.
// TODO: offer a strict mode that skips the call while the cooldown is
// active instead of only logging the remaining wait.
func (e *Engine) Reply(ctx context.Context, turns []llm.Message) (string, error) {
	now := e.now()
	if now.Before(e.cooldownUntil) {
		e.logger.Info("reply_cooldown_active", "remaining", e.cooldownUntil.Sub(now).Round(time.Second).String())
	}
	defer e.advanceCooldown()

	messages := make([]llm.Message, 0, len(turns)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: e.cfg.Persona})
	messages = append(messages, turns...)

	req := llm.Request{
		Model:     e.cfg.Model,
		Messages:  messages,
		MaxTokens: e.cfg.MaxOutputTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= completionMaxAttempts; attempt++ {
		res, err := e.client.Chat(ctx, req)
		if err == nil {
			return strings.TrimSpace(res.Text), nil
		}
		lastErr = err
		e.logger.Warn("completion_attempt_failed", "attempt", attempt, "error", err.Error())
		if attempt >= completionMaxAttempts {
			break
		}
		if serr := retryutil.Sleep(ctx, e.cfg.AttemptPause); serr != nil {
			return "", serr
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", completionMaxAttempts, lastErr)
}

// advanceCooldown moves the cooldown window after every resolved reply
// attempt, success or not. It never moves backwards.
func (e *Engine) advanceCooldown() {
	next := e.now().Add(e.cfg.Cooldown)
	if next.After(e.cooldownUntil) {
		e.cooldownUntil = next
	}
}
