package dialog

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
)

const DefaultLoginTimeout = 5 * time.Minute

var magicCodePattern = regexp.MustCompile(`^\d{6}$`)

type OAuthSettings struct {
	ConnectionName string
	Text           string
	Title          string
	Timeout        time.Duration
}

// OAuthPrompt suspends until the login flow delivers a token for its connection.
// A token arrives as a tokens/response event, a signin/verifyState invoke or a
// typed magic code; the last two need a token service to redeem the code.
type OAuthPrompt struct {
	id       string
	settings OAuthSettings
	tokens   contractx.TokenService
}

// NewOAuthPrompt builds the prompt. tokens may be nil, in which case only
// tokens/response events can complete it.
func NewOAuthPrompt(id string, settings OAuthSettings, tokens contractx.TokenService) *OAuthPrompt {
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultLoginTimeout
	}
	if settings.Title == "" {
		settings.Title = "Login"
	}
	return &OAuthPrompt{
		id:       id,
		settings: settings,
		tokens:   tokens,
	}
}

func (p *OAuthPrompt) ID() string {
	return p.id
}

func (p *OAuthPrompt) Begin(ctx context.Context, rt *Runtime, opts PromptOptions) (TurnResult, error) {
	rt.Active().Prompt = &PromptState{
		Options:   opts,
		ExpiresAt: rt.Now().Add(p.settings.Timeout),
	}

	if tok := p.cachedToken(ctx, rt.Turn); tok != nil {
		return rt.End(ctx, TokenResult(tok))
	}
	if err := p.sendCard(ctx, rt.Turn, opts.Prompt); err != nil {
		return TurnResult{}, err
	}
	return waiting(), nil
}

func (p *OAuthPrompt) Continue(ctx context.Context, rt *Runtime) (TurnResult, error) {
	ps := promptState(rt)
	if ps.Expired(rt.Now()) {
		return TurnResult{}, fmt.Errorf("%w: %s expired at %s", contractx.ErrTimeout, p.id, ps.ExpiresAt.Format(time.RFC3339))
	}

	if tok, ok := p.recognize(ctx, rt.Turn); ok {
		return rt.End(ctx, TokenResult(tok))
	}
	if !rt.Turn.IsMessage() {
		return waiting(), nil
	}
	return retryPrompt(ctx, rt, func(ctx context.Context, text string) error {
		return p.sendCard(ctx, rt.Turn, text)
	})
}

func (p *OAuthPrompt) Resume(ctx context.Context, rt *Runtime, _ Result) (TurnResult, error) {
	if err := p.sendCard(ctx, rt.Turn, promptState(rt).Options.Prompt); err != nil {
		return TurnResult{}, err
	}
	return waiting(), nil
}

func (p *OAuthPrompt) recognize(ctx context.Context, tc *TurnContext) (*contractx.TokenResponse, bool) {
	act := tc.Activity
	switch {
	case act.Type == contractx.ActivityEvent && act.Name == contractx.EventTokenResponse:
		var tok contractx.TokenResponse
		if err := mapstructure.Decode(act.Value, &tok); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("oauth prompt: malformed token response event")
			return nil, false
		}
		if tok.ConnectionName != "" && !strings.EqualFold(tok.ConnectionName, p.settings.ConnectionName) {
			return nil, false
		}
		return &tok, true

	case act.Type == contractx.ActivityInvoke && act.Name == contractx.InvokeVerifySignIn:
		var payload struct {
			State string `mapstructure:"state"`
		}
		if err := mapstructure.Decode(act.Value, &payload); err != nil || payload.State == "" {
			tc.SetInvokeResponse(http.StatusBadRequest, nil)
			return nil, false
		}
		tok, err := p.redeem(ctx, tc, payload.State)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("oauth prompt: verify state failed")
			tc.SetInvokeResponse(http.StatusInternalServerError, nil)
			return nil, false
		}
		if tok == nil {
			tc.SetInvokeResponse(http.StatusNotFound, nil)
			return nil, false
		}
		tc.SetInvokeResponse(http.StatusOK, nil)
		return tok, true

	case act.Type == contractx.ActivityMessage:
		code := strings.TrimSpace(act.Text)
		if !magicCodePattern.MatchString(code) {
			return nil, false
		}
		tok, err := p.redeem(ctx, tc, code)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("oauth prompt: magic code redemption failed")
			return nil, false
		}
		return tok, tok != nil
	}
	return nil, false
}

// redeem exchanges a magic code for a token. It returns nil without error when
// no token service is configured or the service has no token for the code.
func (p *OAuthPrompt) redeem(ctx context.Context, tc *TurnContext, code string) (*contractx.TokenResponse, error) {
	if p.tokens == nil {
		return nil, nil
	}
	tok, err := p.tokens.GetUserToken(ctx, p.tokenRequest(tc, code))
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.Token == "" {
		return nil, nil
	}
	return tok, nil
}

func (p *OAuthPrompt) cachedToken(ctx context.Context, tc *TurnContext) *contractx.TokenResponse {
	tok, err := p.redeem(ctx, tc, "")
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("oauth prompt: cached token lookup failed")
		return nil
	}
	return tok
}

func (p *OAuthPrompt) tokenRequest(tc *TurnContext, magicCode string) contractx.UserTokenRequest {
	return contractx.UserTokenRequest{
		UserID:         tc.Activity.From.ID,
		ConnectionName: p.settings.ConnectionName,
		ChannelID:      tc.Activity.ChannelID,
		ConversationID: tc.Activity.Conversation.ID,
		MagicCode:      magicCode,
	}
}

func (p *OAuthPrompt) sendCard(ctx context.Context, tc *TurnContext, text string) error {
	if text == "" {
		text = p.settings.Text
	}

	button := contractx.CardAction{Type: "signin", Title: p.settings.Title}
	if p.tokens != nil {
		link, err := p.tokens.GetSignInLink(ctx, p.tokenRequest(tc, ""))
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("oauth prompt: sign-in link unavailable")
		} else {
			button.Value = link
		}
	}

	reply := tc.Activity.Reply(text)
	reply.Attachments = []contractx.Attachment{{
		ContentType: contractx.ContentTypeOAuthCard,
		Content: contractx.OAuthCard{
			Text:           text,
			ConnectionName: p.settings.ConnectionName,
			Buttons:        []contractx.CardAction{button},
		},
	}}
	return tc.SendActivity(ctx, reply)
}
