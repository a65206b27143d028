// Package inbound defines the channel-agnostic envelope every channel shim
// normalizes a platform event into before it reaches the agent loop.
package inbound

// Message is the normalized, immutable inbound envelope produced by a
// channel shim (chat, Discord, Twitter, the HTTP gateway, Gmail push, or the
// scheduler) and consumed by the agent loop. Once constructed it is never
// mutated; shims that need a variant of a message build a new Message.
type Message struct {
	ChannelID   string
	ChannelType string
	ChatID      string
	UserID      string
	UserName    string
	Text        string

	MessageID        string
	SelectedNetwork  string
	ForceSafeMode    bool
	PlatformRoleIDs  []string
}

// Option configures an optional field on a Message at construction time.
type Option func(*Message)

// WithMessageID sets the platform-native message id.
func WithMessageID(id string) Option { return func(m *Message) { m.MessageID = id } }

// WithSelectedNetwork sets the user-selected EVM network for this turn.
func WithSelectedNetwork(network string) Option {
	return func(m *Message) { m.SelectedNetwork = network }
}

// WithForceSafeMode forces safe-mode tool filtering for this message.
func WithForceSafeMode() Option { return func(m *Message) { m.ForceSafeMode = true } }

// WithPlatformRoleIDs attaches the caller's platform role ids (e.g. Discord
// role ids) used to resolve special-role tool allowlists.
func WithPlatformRoleIDs(ids ...string) Option {
	return func(m *Message) {
		m.PlatformRoleIDs = append([]string(nil), ids...)
	}
}

// NewMessage constructs a normalized Message. channelID/channelType/chatID
// identify the session key (see internal/chatsession); userID/userName/text
// describe the sender and content.
func NewMessage(channelID, channelType, chatID, userID, userName, text string, opts ...Option) Message {
	m := Message{
		ChannelID:   channelID,
		ChannelType: channelType,
		ChatID:      chatID,
		UserID:      userID,
		UserName:    userName,
		Text:        text,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}
