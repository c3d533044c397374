package misskey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/huaerlab/huaer/internal/conversation"
	"github.com/huaerlab/huaer/internal/replyengine"
	"github.com/huaerlab/huaer/internal/retryutil"
	"github.com/huaerlab/huaer/llm"
	misskeyapi "github.com/huaerlab/huaer/misskey"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = 5 * time.Second
	defaultReconnectDelayStep   = 2 * time.Second
)

type Dependencies struct {
	Logger *slog.Logger
	API    *misskeyapi.Client
	LLM    llm.Client

	// Dial opens a fresh streaming connection. Overridable in tests;
	// defaults to misskey.DialStream.
	Dial func(ctx context.Context) (misskeyapi.StreamConn, error)
}

type Options struct {
	ChannelID   string
	BotUserID   string
	InstanceURL string

	ReadTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectDelayStep   time.Duration

	MaxContextTurns int
	SeedMemory      []llm.Message
	Chat            replyengine.Config
}

// Run drives one channel's pipeline until the reconnect budget is
// exhausted or ctx is canceled. Each failed connect/receive cycle
// consumes one attempt and waits for a linearly growing delay; a
// successful subscribe handshake resets both. Reconnection is a flat
// loop, never recursion.
func Run(ctx context.Context, d Dependencies, opts Options) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChannelID != "" {
		logger = logger.With("channel_id", opts.ChannelID)
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.ReconnectDelayStep <= 0 {
		opts.ReconnectDelayStep = defaultReconnectDelayStep
	}

	engine := replyengine.New(d.LLM, opts.Chat, logger)

	attempts := 0
	backoff := retryutil.Linear{Initial: opts.ReconnectDelay, Step: opts.ReconnectDelayStep}

	for {
		if ctx.Err() != nil {
			logger.Info("misskey_stream_stop", "reason", "context_canceled")
			return nil
		}

		err := runSession(ctx, d, opts, logger, engine, func() {
			attempts = 0
			backoff.Reset()
		})
		if ctx.Err() != nil {
			logger.Info("misskey_stream_stop", "reason", "context_canceled")
			return nil
		}

		attempts++
		if attempts >= opts.MaxReconnectAttempts {
			logger.Error("misskey_stream_gave_up", "attempts", attempts, "error", err.Error())
			return fmt.Errorf("reconnect attempts exhausted: %w", err)
		}
		delay := backoff.Next()
		logger.Warn("misskey_stream_error", "attempt", attempts, "retry_in", delay.String(), "error", err.Error())
		if serr := retryutil.Sleep(ctx, delay); serr != nil {
			logger.Info("misskey_stream_stop", "reason", "context_canceled")
			return nil
		}
	}
}

func runSession(ctx context.Context, d Dependencies, opts Options, logger *slog.Logger, engine *replyengine.Engine, onSubscribed func()) error {
	conn, err := d.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	sess := misskeyapi.NewSession(conn, opts.ReadTimeout, logger)
	if err := sess.Subscribe(opts.ChannelID); err != nil {
		return err
	}
	onSubscribed()
	logger.Info("misskey_stream_connected", "bot_user_id", opts.BotUserID)

	return sess.Consume(ctx, func(frame misskeyapi.StreamFrame) {
		mention, ok := misskeyapi.ClassifyMention(frame, opts.ChannelID, opts.BotUserID)
		if !ok {
			return
		}
		handleMention(ctx, d, opts, logger, engine, mention)
	})
}

// handleMention runs one reply cycle: build context, obtain a
// completion, post the reply. Every failure is contained here; a failed
// mention never takes the session down.
func handleMention(ctx context.Context, d Dependencies, opts Options, logger *slog.Logger, engine *replyengine.Engine, mention misskeyapi.Mention) {
	log := logger.With("cycle_id", uuid.NewString(), "note_id", mention.NoteID)
	log.Info("mention_received", "author", mention.AuthorName)

	turns := conversation.Build(ctx, log, d.API, mention, conversation.BuildOptions{
		BotUserID:       opts.BotUserID,
		MaxContextTurns: opts.MaxContextTurns,
		SeedMemory:      opts.SeedMemory,
	})

	text, err := engine.Reply(ctx, turns)
	if err != nil {
		log.Warn("reply_cycle_failed", "stage", "completion", "error", err.Error())
		return
	}

	noteID, err := d.API.CreateNote(ctx, misskeyapi.CreateNoteRequest{
		Text:       "@" + mention.AuthorName + " " + text,
		Visibility: "public",
		ReplyID:    mention.NoteID,
	})
	if err != nil {
		log.Warn("reply_cycle_failed", "stage", "post", "error", err.Error())
		return
	}
	log.Info("reply_posted", "reply_note_id", noteID, "url", opts.InstanceURL+"/notes/"+noteID)
}
