package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	promptx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/prompt"
	directoryx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/directory"
	metricsx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/metrics"
)

const (
	DialogID      = "LookupUserWithPhone"
	OAuthPromptID = "OAuthPrompt"
	PhonePromptID = "phonenumber"

	phoneNumberKey = "phoneNumber"
)

type Config struct {
	ConnectionName string
	LoginTimeout   time.Duration
}

// Lookup is the login -> phone number -> directory lookup dialog.
type Lookup struct {
	provider contractx.TokenProvider
	messages promptx.MessageSet
	metrics  *metricsx.Recorder

	waterfall *dialogx.Waterfall
	oauth     *dialogx.OAuthPrompt
	phone     *dialogx.TextPrompt
}

// New wires the dialog. tokens and metrics may be nil.
func New(
	cfg Config,
	provider contractx.TokenProvider,
	tokens contractx.TokenService,
	messages promptx.MessageSet,
	metrics *metricsx.Recorder,
) (*Lookup, error) {
	if provider == nil {
		return nil, errors.New("token provider is required")
	}
	connection := strings.TrimSpace(cfg.ConnectionName)
	if connection == "" {
		return nil, errors.New("oauth connection name is required")
	}

	l := &Lookup{
		provider: provider,
		messages: messages,
		metrics:  metrics,
	}
	l.oauth = dialogx.NewOAuthPrompt(OAuthPromptID, dialogx.OAuthSettings{
		ConnectionName: connection,
		Text:           messages.LoginText,
		Title:          messages.LoginTitle,
		Timeout:        cfg.LoginTimeout,
	}, tokens)
	l.phone = dialogx.NewTextPrompt(PhonePromptID, nil)
	l.waterfall = dialogx.NewWaterfall(DialogID,
		l.promptLogin,
		l.askPhoneNumber,
		l.collectPhoneNumber,
		l.lookupByPhone,
	)
	return l, nil
}

// Dialogs lists everything that must be registered in the engine's set.
func (l *Lookup) Dialogs() []dialogx.Dialog {
	return []dialogx.Dialog{l.waterfall, l.oauth, l.phone}
}

func (l *Lookup) promptLogin(ctx context.Context, sc *dialogx.StepContext) (dialogx.Outcome, error) {
	return dialogx.Suspend(OAuthPromptID, dialogx.PromptOptions{}), nil
}

// askPhoneNumber runs whatever the login prompt produced; the token is fetched
// again after the number is collected.
func (l *Lookup) askPhoneNumber(ctx context.Context, sc *dialogx.StepContext) (dialogx.Outcome, error) {
	return dialogx.Suspend(PhonePromptID, dialogx.PromptOptions{Prompt: l.messages.PhonePrompt}), nil
}

func (l *Lookup) collectPhoneNumber(ctx context.Context, sc *dialogx.StepContext) (dialogx.Outcome, error) {
	var phone string
	switch sc.Result.Kind {
	case dialogx.ResultText:
		phone = strings.TrimSpace(sc.Result.Text)
	case dialogx.ResultNone, "":
	default:
		return dialogx.Outcome{}, fmt.Errorf("%w: %s for phone number", dialogx.ErrUnexpectedResult, sc.Result.Kind)
	}

	if phone == "" {
		l.metrics.DialogOutcome("input_invalid")
		log.Ctx(ctx).Info().
			Err(fmt.Errorf("%w: empty phone number", contractx.ErrInputInvalid)).
			Str("outcome", "input_invalid").
			Msg("lookup: ended without result")
		if err := sc.Turn.SendText(ctx, l.messages.TryAgain); err != nil {
			return dialogx.Outcome{}, err
		}
		return dialogx.End(dialogx.NoneResult()), nil
	}

	sc.Values[phoneNumberKey] = phone
	return dialogx.Suspend(OAuthPromptID, dialogx.PromptOptions{}), nil
}

func (l *Lookup) lookupByPhone(ctx context.Context, sc *dialogx.StepContext) (dialogx.Outcome, error) {
	var token string
	switch sc.Result.Kind {
	case dialogx.ResultToken:
		if sc.Result.Token != nil {
			token = sc.Result.Token.Token
		}
	case dialogx.ResultNone, "":
	default:
		return dialogx.Outcome{}, fmt.Errorf("%w: %s for login", dialogx.ErrUnexpectedResult, sc.Result.Kind)
	}
	if token == "" {
		return l.fail(ctx, sc, contractx.ErrAuthFailed)
	}

	phone, _ := sc.Values[phoneNumberKey].(string)
	users, err := l.provider.Authenticate(token).ListUsers(ctx)
	if err != nil {
		if errors.Is(err, directoryx.ErrUnauthorized) {
			l.metrics.DirectoryRequest("unauthorized")
			return l.fail(ctx, sc, fmt.Errorf("%w: %w", contractx.ErrAuthFailed, err))
		}
		l.metrics.DirectoryRequest("error")
		return dialogx.Outcome{}, err
	}
	l.metrics.DirectoryRequest("ok")

	names := MatchByPhone(users, phone)
	if len(names) == 0 {
		return l.fail(ctx, sc, contractx.ErrLookupMiss)
	}

	l.metrics.DialogOutcome("found")
	found := strings.Join(names, ", ")
	if err := sc.Turn.SendText(ctx, found); err != nil {
		return dialogx.Outcome{}, err
	}
	return dialogx.End(dialogx.TextResult(found)), nil
}

// fail sends the shared failure message; auth failures and misses look the same
// to the user.
func (l *Lookup) fail(ctx context.Context, sc *dialogx.StepContext, reason error) (dialogx.Outcome, error) {
	outcome := "auth_failed"
	if errors.Is(reason, contractx.ErrLookupMiss) {
		outcome = "not_found"
	}
	l.metrics.DialogOutcome(outcome)
	log.Ctx(ctx).Info().Err(reason).Str("outcome", outcome).Msg("lookup: ended without result")

	if err := sc.Turn.SendText(ctx, l.messages.LoginFailed); err != nil {
		return dialogx.Outcome{}, err
	}
	return dialogx.End(dialogx.NoneResult()), nil
}

// MatchByPhone returns the display names of users that list phone among their
// business phones. Comparison is exact.
func MatchByPhone(users []contractx.DirectoryUser, phone string) []string {
	if phone == "" {
		return nil
	}
	var names []string
	for _, u := range users {
		for _, p := range u.BusinessPhones {
			if p == phone {
				names = append(names, u.DisplayName)
				break
			}
		}
	}
	return names
}
