package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/huaerlab/huaer/llm"
	"github.com/huaerlab/huaer/misskey"
)

// Fetcher retrieves a note's ancestor chain, newest first.
type Fetcher interface {
	Conversation(ctx context.Context, noteID string) ([]misskey.Note, error)
}

type BuildOptions struct {
	BotUserID       string
	MaxContextTurns int
	SeedMemory      []llm.Message
}

// Build assembles the model input for one mention: seed memory, the
// windowed ancestor chain in chronological order, then the mention
// itself. A failed ancestor fetch degrades to an empty chain instead of
// aborting the reply cycle.
//
// Truncation happens twice on purpose: the ancestor window bounds how
// much fetched history enters the context, the final cap bounds the
// combined prompt regardless of where turns came from. Seed memory is
// not protected from the final cap.
func Build(ctx context.Context, logger *slog.Logger, fetcher Fetcher, mention misskey.Mention, opts BuildOptions) []llm.Message {
	if logger == nil {
		logger = slog.Default()
	}

	notes, err := fetcher.Conversation(ctx, mention.NoteID)
	if err != nil {
		logger.Warn("conversation_fetch_error", "note_id", mention.NoteID, "error", err.Error())
		notes = nil
	}
	if opts.MaxContextTurns > 0 && len(notes) > opts.MaxContextTurns {
		notes = notes[:opts.MaxContextTurns]
	}

	turns := make([]llm.Message, 0, len(opts.SeedMemory)+len(notes)+1)
	turns = append(turns, opts.SeedMemory...)

	// Newest-first from the API; walk backwards for chronological order.
	for i := len(notes) - 1; i >= 0; i-- {
		note := notes[i]
		if note.UserID == opts.BotUserID {
			turns = append(turns, llm.Message{Role: llm.RoleAssistant, Content: note.Text})
			continue
		}
		turns = append(turns, llm.Message{
			Role:    llm.RoleUser,
			Content: labelSpeaker(note.SpeakerName(), note.Text),
		})
	}

	turns = append(turns, llm.Message{
		Role:    llm.RoleUser,
		Content: labelSpeaker(mention.AuthorName, mention.Text),
	})

	if opts.MaxContextTurns > 0 {
		for len(turns) > opts.MaxContextTurns {
			turns = turns[1:]
		}
	}
	return turns
}

func labelSpeaker(name, text string) string {
	if name == "" {
		return text
	}
	return fmt.Sprintf("[%s]: %s", name, text)
}
