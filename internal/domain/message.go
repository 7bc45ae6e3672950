package domain

// Sender identifies who authored a message in the widget.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a single entry in the widget transcript. ID is the optional
// server-assigned identifier; messages added locally have none.
type Message struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Sender  Sender `json:"sender"`
}

// HistoryMessage is the wire shape returned by the history endpoint.
type HistoryMessage struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Role    string `json:"role"`
}

// SenderFromRole maps a server role onto a widget sender. Anything that is
// not the user is rendered as the bot.
func SenderFromRole(role string) Sender {
	if role == "user" {
		return SenderUser
	}
	return SenderBot
}

// ToMessage converts a history entry into a transcript message.
func (h HistoryMessage) ToMessage() Message {
	return Message{ID: h.ID, Content: h.Content, Sender: SenderFromRole(h.Role)}
}
