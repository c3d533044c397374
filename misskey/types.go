package misskey

// Note is a single Misskey post as returned by the REST API.
type Note struct {
	ID      string       `json:"id"`
	Text    string       `json:"text"`
	UserID  string       `json:"userId"`
	User    User         `json:"user"`
	Channel *NoteChannel `json:"channel,omitempty"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type NoteChannel struct {
	ID string `json:"id"`
}

// SpeakerName returns the best human-readable name for the note author.
func (n Note) SpeakerName() string {
	if n.User.Username != "" {
		return n.User.Username
	}
	if n.User.ID != "" {
		return n.User.ID
	}
	return n.UserID
}
