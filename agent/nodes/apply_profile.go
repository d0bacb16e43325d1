package dispatchnode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
)

// ProfileKey is the user state key UserProfile is stored under.
const ProfileKey = "UserProfile"

type UserProfile struct {
	Name       string    `json:"name,omitempty"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Lookups    int       `json:"lookups"`
}

// ApplyProfile records who the user is and counts completed lookups.
func ApplyProfile(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	applyProfile(&in.Profile, in.Activity.From, in.Status, in.Result, in.Now)
	return in, nil
}

func applyProfile(p *UserProfile, from contractx.ChannelAccount, status dialogx.Status, result dialogx.Result, now time.Time) {
	if name := strings.TrimSpace(from.Name); name != "" {
		p.Name = name
	}
	p.LastSeenAt = now.UTC()
	if status == dialogx.StatusComplete && result.Kind == dialogx.ResultText {
		p.Lookups++
	}
}
