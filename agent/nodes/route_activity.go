package dispatchnode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
)

type Category string

const (
	CategoryMessage       Category = "message"
	CategoryMembership    Category = "conversation_update"
	CategoryTokenResponse Category = "token_response"
	CategoryVerifySignIn  Category = "verify_signin"
	CategoryLogout        Category = "logout"
	CategoryIgnored       Category = "ignored"
)

const (
	NodeRunDialog      = "run_dialog"
	NodeSignOut        = "sign_out"
	NodeWelcomeMembers = "welcome_members"
	NodeSkipTurn       = "skip_turn"
)

const logoutCommand = "logout"

func RouteActivity(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Category = categorize(in.Activity)
	return in, nil
}

func categorize(act contractx.Activity) Category {
	switch act.Type {
	case contractx.ActivityMessage:
		if strings.EqualFold(strings.TrimSpace(act.Text), logoutCommand) {
			return CategoryLogout
		}
		return CategoryMessage
	case contractx.ActivityConversationUpdate:
		return CategoryMembership
	case contractx.ActivityEvent:
		if act.Name == contractx.EventTokenResponse {
			return CategoryTokenResponse
		}
	case contractx.ActivityInvoke:
		if act.Name == contractx.InvokeVerifySignIn {
			return CategoryVerifySignIn
		}
	}
	return CategoryIgnored
}

// NextNode picks the branch for a routed turn.
func NextNode(in *GraphState) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	switch in.Category {
	case CategoryMessage, CategoryTokenResponse, CategoryVerifySignIn:
		return NodeRunDialog, nil
	case CategoryLogout:
		return NodeSignOut, nil
	case CategoryMembership:
		return NodeWelcomeMembers, nil
	default:
		return NodeSkipTurn, nil
	}
}
