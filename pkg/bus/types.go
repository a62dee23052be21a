package bus

// ChannelMessage is one inbound message produced by a channel listener.
//
// ID is never empty once the message is on the bus; listeners synthesize one
// from the channel name and timestamp when the source network omits it and
// set IDSynthesized. Synthesized ids are not unique and never deduplicated.
type ChannelMessage struct {
	ID            string `json:"id"`
	IDSynthesized bool   `json:"-"`
	Sender        string `json:"sender"`
	ReplyTarget   string `json:"reply_target"`
	Content       string `json:"content"`
	Channel       string `json:"channel"`
	Timestamp     uint64 `json:"timestamp"`
	ThreadTS      string `json:"thread_ts,omitempty"`
}

// SendMessage is one outbound delivery addressed to a channel recipient.
type SendMessage struct {
	Content   string `json:"content"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	ThreadTS  string `json:"thread_ts,omitempty"`
}

// NewSendMessage builds a delivery for recipient.
func NewSendMessage(content string, recipient string) SendMessage {
	return SendMessage{Content: content, Recipient: recipient}
}

// InThread returns a copy of the message addressed to thread ts.
func (m SendMessage) InThread(ts string) SendMessage {
	m.ThreadTS = ts
	return m
}
