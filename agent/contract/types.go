package contract

type ActivityType string

const (
	ActivityMessage            ActivityType = "message"
	ActivityConversationUpdate ActivityType = "conversationUpdate"
	ActivityEvent              ActivityType = "event"
	ActivityInvoke             ActivityType = "invoke"
)

const (
	EventTokenResponse   = "tokens/response"
	InvokeVerifySignIn   = "signin/verifyState"
	ContentTypeOAuthCard = "application/vnd.microsoft.card.oauth"
)

// Activity is the transport-level unit delivered once per turn.
type Activity struct {
	ID           string           `json:"id,omitempty"`
	Type         ActivityType     `json:"type"`
	Name         string           `json:"name,omitempty"`
	Text         string           `json:"text,omitempty"`
	ChannelID    string           `json:"channelId,omitempty"`
	ServiceURL   string           `json:"serviceUrl,omitempty"`
	From         ChannelAccount   `json:"from"`
	Recipient    ChannelAccount   `json:"recipient"`
	Conversation ConversationRef  `json:"conversation"`
	MembersAdded []ChannelAccount `json:"membersAdded,omitempty"`
	ReplyToID    string           `json:"replyToId,omitempty"`
	Value        any              `json:"value,omitempty"`
	Attachments  []Attachment     `json:"attachments,omitempty"`
}

type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ConversationRef struct {
	ID string `json:"id"`
}

type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content,omitempty"`
}

// OAuthCard asks the user to sign in to the named connection.
type OAuthCard struct {
	Text           string       `json:"text"`
	ConnectionName string       `json:"connectionName"`
	Buttons        []CardAction `json:"buttons,omitempty"`
}

type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value,omitempty"`
}

// TokenResponse is delivered by the login flow and consumed by the step awaiting it.
type TokenResponse struct {
	Token          string `json:"token" mapstructure:"token"`
	ConnectionName string `json:"connectionName" mapstructure:"connectionName"`
	ChannelID      string `json:"channelId,omitempty" mapstructure:"channelId"`
	Expiration     string `json:"expiration,omitempty" mapstructure:"expiration"`
}

// InvokeResponse is returned synchronously for invoke activities.
type InvokeResponse struct {
	Status int `json:"status"`
	Body   any `json:"body,omitempty"`
}

// Reply builds an outgoing message addressed back to the sender of a.
func (a Activity) Reply(text string) Activity {
	return Activity{
		Type:         ActivityMessage,
		Text:         text,
		ChannelID:    a.ChannelID,
		ServiceURL:   a.ServiceURL,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		ReplyToID:    a.ID,
	}
}
