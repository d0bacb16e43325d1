package contract

import "context"

// Sender delivers outgoing activities back through the conversational transport.
type Sender interface {
	Send(ctx context.Context, reply Activity) error
}

// DirectoryUser is one entry returned by the directory service.
type DirectoryUser struct {
	DisplayName    string   `json:"displayName"`
	BusinessPhones []string `json:"businessPhones"`
}

// Directory lists organizational users on behalf of an authenticated user.
type Directory interface {
	ListUsers(ctx context.Context) ([]DirectoryUser, error)
}

// TokenProvider turns a delegated bearer token into an authenticated directory handle.
type TokenProvider interface {
	Authenticate(token string) Directory
}

// TokenService is the identity provider's user token store.
type TokenService interface {
	GetUserToken(ctx context.Context, req UserTokenRequest) (*TokenResponse, error)
	GetSignInLink(ctx context.Context, req UserTokenRequest) (string, error)
	SignOut(ctx context.Context, req UserTokenRequest) error
}

type UserTokenRequest struct {
	UserID         string
	ConnectionName string
	ChannelID      string
	ConversationID string
	MagicCode      string
}
