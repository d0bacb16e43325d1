package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed template/messages.yaml
var messagesRaw []byte

// MessageSet holds every user-facing text the bot sends.
type MessageSet struct {
	Welcome      string `yaml:"welcome"`
	LoginText    string `yaml:"login_text"`
	LoginTitle   string `yaml:"login_title"`
	PhonePrompt  string `yaml:"phone_prompt"`
	TryAgain     string `yaml:"try_again"`
	LoginFailed  string `yaml:"login_failed"`
	SignedOut    string `yaml:"signed_out"`
	GenericError string `yaml:"generic_error"`
}

// LoadMessageSet parses the embedded catalog.
func LoadMessageSet() (MessageSet, error) {
	return ParseMessageSet(messagesRaw)
}

func MustLoadMessageSet() MessageSet {
	set, err := LoadMessageSet()
	if err != nil {
		panic(err)
	}
	return set
}

// ParseMessageSet decodes a YAML catalog; every message must be present.
func ParseMessageSet(raw []byte) (MessageSet, error) {
	var set MessageSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return MessageSet{}, fmt.Errorf("parse message catalog: %w", err)
	}
	set.trim()

	missing := set.missing()
	if len(missing) > 0 {
		return MessageSet{}, fmt.Errorf("message catalog is missing: %s", strings.Join(missing, ", "))
	}
	return set, nil
}

func (s *MessageSet) trim() {
	for _, f := range s.fields() {
		*f.val = strings.TrimSpace(*f.val)
	}
}

func (s *MessageSet) missing() []string {
	var out []string
	for _, f := range s.fields() {
		if *f.val == "" {
			out = append(out, f.name)
		}
	}
	return out
}

type messageField struct {
	name string
	val  *string
}

func (s *MessageSet) fields() []messageField {
	return []messageField{
		{"welcome", &s.Welcome},
		{"login_text", &s.LoginText},
		{"login_title", &s.LoginTitle},
		{"phone_prompt", &s.PhonePrompt},
		{"try_again", &s.TryAgain},
		{"login_failed", &s.LoginFailed},
		{"signed_out", &s.SignedOut},
		{"generic_error", &s.GenericError},
	}
}
