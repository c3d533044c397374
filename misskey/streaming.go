package misskey

import "encoding/json"

// StreamControl is an outgoing control message on the streaming
// connection.
type StreamControl struct {
	Type string            `json:"type"`
	Body StreamControlBody `json:"body"`
}

type StreamControlBody struct {
	Channel string            `json:"channel,omitempty"`
	ID      string            `json:"id"`
	Params  map[string]string `json:"params,omitempty"`
}

// MainConnectMessage subscribes the connection to the account's main
// feed. Notifications are only delivered after this subscription.
func MainConnectMessage() StreamControl {
	return StreamControl{
		Type: "connect",
		Body: StreamControlBody{Channel: "main", ID: "main"},
	}
}

// ChannelConnectMessage additionally subscribes to one channel's event
// feed.
func ChannelConnectMessage(channelID string) StreamControl {
	return StreamControl{
		Type: "connect",
		Body: StreamControlBody{
			Channel: "channel",
			ID:      "channel_" + channelID,
			Params:  map[string]string{"channelId": channelID},
		},
	}
}

func HeartbeatMessage() StreamControl {
	return StreamControl{
		Type: "ping",
		Body: StreamControlBody{ID: "heartbeat"},
	}
}

// StreamFrame is a decoded inbound streaming message. Body.Body stays
// raw until the frame is classified.
type StreamFrame struct {
	Type string          `json:"type"`
	Body StreamFrameBody `json:"body"`
}

type StreamFrameBody struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

func DecodeFrame(raw []byte) (StreamFrame, error) {
	var frame StreamFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return StreamFrame{}, err
	}
	return frame, nil
}

// Mention is one mention of the bot, extracted from a channel frame.
// It lives only for the duration of a single reply cycle.
type Mention struct {
	ChannelID  string
	NoteID     string
	AuthorID   string
	AuthorName string
	Text       string
}

// ClassifyMention decides whether a frame is a mention the bot should
// answer. It rejects non-channel frames, non-mention events, frames
// with a missing or malformed nested note, notes from other channels
// (when expectedChannelID is set), and the bot's own notes.
func ClassifyMention(frame StreamFrame, expectedChannelID, botUserID string) (Mention, bool) {
	if frame.Type != "channel" {
		return Mention{}, false
	}
	if len(frame.Body.Body) == 0 {
		return Mention{}, false
	}

	var note Note
	if err := json.Unmarshal(frame.Body.Body, &note); err != nil {
		return Mention{}, false
	}

	if expectedChannelID != "" {
		if note.Channel == nil || note.Channel.ID != expectedChannelID {
			return Mention{}, false
		}
	}
	if frame.Body.Type != "mention" {
		return Mention{}, false
	}
	if note.User.ID == botUserID {
		return Mention{}, false
	}
	if note.ID == "" {
		return Mention{}, false
	}

	channelID := ""
	if note.Channel != nil {
		channelID = note.Channel.ID
	}
	return Mention{
		ChannelID:  channelID,
		NoteID:     note.ID,
		AuthorID:   note.User.ID,
		AuthorName: note.SpeakerName(),
		Text:       note.Text,
	}, true
}
