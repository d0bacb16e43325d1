package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/agents/lookup"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	nodex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/nodes"
	promptx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/prompt"
	statex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/state"
)

type fakeDirectory struct {
	users []contractx.DirectoryUser
	err   error
}

func (d fakeDirectory) ListUsers(context.Context) ([]contractx.DirectoryUser, error) {
	return d.users, d.err
}

type fakeProvider struct {
	dir      fakeDirectory
	counting *countingDirectory
}

func (p *fakeProvider) Authenticate(token string) contractx.Directory {
	if p.counting != nil {
		return p.counting.forToken(token)
	}
	return p.dir
}

// countingDirectory records the token behind every ListUsers call.
type countingDirectory struct {
	mu     sync.Mutex
	users  []contractx.DirectoryUser
	tokens []string
}

func (c *countingDirectory) forToken(token string) contractx.Directory {
	return directoryFunc(func(context.Context) ([]contractx.DirectoryUser, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.tokens = append(c.tokens, token)
		return c.users, nil
	})
}

type directoryFunc func(ctx context.Context) ([]contractx.DirectoryUser, error)

func (f directoryFunc) ListUsers(ctx context.Context) ([]contractx.DirectoryUser, error) {
	return f(ctx)
}

type fakeTokenService struct {
	mu       sync.Mutex
	signOuts []contractx.UserTokenRequest
}

func (f *fakeTokenService) GetUserToken(context.Context, contractx.UserTokenRequest) (*contractx.TokenResponse, error) {
	return nil, nil
}

func (f *fakeTokenService) GetSignInLink(context.Context, contractx.UserTokenRequest) (string, error) {
	return "https://login.example", nil
}

func (f *fakeTokenService) SignOut(_ context.Context, req contractx.UserTokenRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts = append(f.signOuts, req)
	return nil
}

type recordingSender struct {
	sent []contractx.Activity
}

func (s *recordingSender) Send(_ context.Context, reply contractx.Activity) error {
	s.sent = append(s.sent, reply)
	return nil
}

func (s *recordingSender) texts() []string {
	out := make([]string, 0, len(s.sent))
	for _, a := range s.sent {
		out = append(out, a.Text)
	}
	return out
}

// recordingStore wraps a MemoryStore and keeps every record it hands out or receives.
type recordingStore struct {
	*statex.MemoryStore

	mu      sync.Mutex
	loaded  []*statex.Record
	saved   []*statex.Record
	saveErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: statex.NewMemoryStore()}
}

func (s *recordingStore) Load(ctx context.Context, key string) (*statex.Record, error) {
	rec, err := s.MemoryStore.Load(ctx, key)
	if err == nil {
		s.mu.Lock()
		s.loaded = append(s.loaded, rec.Clone())
		s.mu.Unlock()
	}
	return rec, err
}

func (s *recordingStore) Save(ctx context.Context, rec *statex.Record) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	s.saved = append(s.saved, rec.Clone())
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, rec)
}

func (s *recordingStore) savedWithScope(scope statex.Scope) []*statex.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*statex.Record
	for _, r := range s.saved {
		if r.Scope == scope {
			out = append(out, r)
		}
	}
	return out
}

type testEnv struct {
	dispatcher *Dispatcher
	store      *recordingStore
	tokens     *fakeTokenService
	now        time.Time
	seq        int
}

type envOption func(*fakeProvider)

func withDirectory(c *countingDirectory) envOption {
	return func(p *fakeProvider) {
		p.counting = c
	}
}

func newTestEnv(t *testing.T, dir fakeDirectory, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		store:  newRecordingStore(),
		tokens: &fakeTokenService{},
		now:    time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	messages := promptx.MustLoadMessageSet()

	provider := &fakeProvider{dir: dir}
	for _, opt := range opts {
		opt(provider)
	}

	l, err := lookup.New(lookup.Config{ConnectionName: "graph"}, provider, nil, messages, nil)
	if err != nil {
		t.Fatalf("lookup.New() error = %v", err)
	}
	set, err := dialogx.NewSet(l.Dialogs()...)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	engine, err := dialogx.NewEngine(set, lookup.DialogID, dialogx.WithClock(func() time.Time { return env.now }))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	d, err := New(Deps{
		Conversations: env.store,
		Users:         env.store,
		Engine:        engine,
		Tokens:        env.tokens,
		Messages:      messages,
	}, Config{ConnectionName: "graph"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d.now = func() time.Time { return env.now }
	env.dispatcher = d
	return env
}

func (e *testEnv) activity(conv string, typ contractx.ActivityType) contractx.Activity {
	e.seq++
	return contractx.Activity{
		ID:           fmt.Sprintf("%s-%d", conv, e.seq),
		Type:         typ,
		ChannelID:    "msteams",
		From:         contractx.ChannelAccount{ID: "user-1", Name: "Ann"},
		Recipient:    contractx.ChannelAccount{ID: "bot"},
		Conversation: contractx.ConversationRef{ID: conv},
	}
}

func (e *testEnv) message(conv, text string) contractx.Activity {
	act := e.activity(conv, contractx.ActivityMessage)
	act.Text = text
	return act
}

func (e *testEnv) tokenEvent(conv, token string) contractx.Activity {
	act := e.activity(conv, contractx.ActivityEvent)
	act.Name = contractx.EventTokenResponse
	act.Value = map[string]any{"token": token, "connectionName": "graph"}
	return act
}

func (e *testEnv) handle(t *testing.T, act contractx.Activity) (TurnOutput, *recordingSender) {
	t.Helper()

	sender := &recordingSender{}
	out, err := e.dispatcher.HandleActivity(context.Background(), act, sender)
	if err != nil {
		t.Fatalf("HandleActivity(%s) error = %v", act.ID, err)
	}
	return out, sender
}

func (e *testEnv) dialogState(t *testing.T, conv string) dialogx.DialogState {
	t.Helper()

	rec, err := e.store.MemoryStore.Load(context.Background(), "msteams/conversations/"+conv)
	if err != nil {
		t.Fatalf("load conversation %s: %v", conv, err)
	}
	var st dialogx.DialogState
	if _, err := rec.Get(dialogx.StateKey, &st); err != nil {
		t.Fatalf("decode dialog state: %v", err)
	}
	return st
}

var directoryUsers = []contractx.DirectoryUser{
	{DisplayName: "Alice", BusinessPhones: []string{"555-1111"}},
	{DisplayName: "Bob", BusinessPhones: []string{"555-2222"}},
}

func TestHandleActivityInvalidInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{})
	ctx := context.Background()

	_, err := env.dispatcher.HandleActivity(ctx, contractx.Activity{Conversation: contractx.ConversationRef{ID: "c"}}, &recordingSender{})
	if !errors.Is(err, ErrInvalidActivity) {
		t.Fatalf("expected ErrInvalidActivity, got %v", err)
	}

	_, err = env.dispatcher.HandleActivity(ctx, contractx.Activity{Type: contractx.ActivityMessage}, &recordingSender{})
	if !errors.Is(err, ErrInvalidConversation) {
		t.Fatalf("expected ErrInvalidConversation, got %v", err)
	}

	_, err = env.dispatcher.HandleActivity(ctx, env.message("c", "hi"), nil)
	if !errors.Is(err, ErrMissingSender) {
		t.Fatalf("expected ErrMissingSender, got %v", err)
	}

	noUser := env.message("c", "hi")
	noUser.From = contractx.ChannelAccount{}
	_, err = env.dispatcher.HandleActivity(ctx, noUser, &recordingSender{})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(env.store.saved) != 0 {
		t.Fatalf("invalid activities must not be saved, got %d saves", len(env.store.saved))
	}
}

func TestHandleActivityLookupFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{users: directoryUsers})

	out, sender := env.handle(t, env.message("c1", "hello"))
	if out.Category != nodex.CategoryMessage || out.Status != dialogx.StatusWaiting {
		t.Fatalf("first turn = %+v", out)
	}
	if len(sender.sent) != 1 || len(sender.sent[0].Attachments) != 1 {
		t.Fatalf("first turn should send a login card, sent %+v", sender.sent)
	}

	out, sender = env.handle(t, env.tokenEvent("c1", "tok-1"))
	if out.Category != nodex.CategoryTokenResponse || sender.texts()[0] != "What's the phone number for look up?" {
		t.Fatalf("second turn = %+v, sent %q", out, sender.texts())
	}

	env.handle(t, env.message("c1", "555-2222"))
	out, sender = env.handle(t, env.tokenEvent("c1", "tok-2"))
	if out.Status != dialogx.StatusComplete || out.Result.Text != "Bob" {
		t.Fatalf("final turn = %+v", out)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("final turn sent %q", got)
	}

	if st := env.dialogState(t, "c1"); len(st.Stack) != 0 {
		t.Fatalf("saved stack not empty: %+v", st.Stack)
	}

	rec, err := env.store.MemoryStore.Load(context.Background(), "msteams/users/user-1")
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	var profile nodex.UserProfile
	if _, err := rec.Get(nodex.ProfileKey, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Name != "Ann" || profile.Lookups != 1 || !profile.LastSeenAt.Equal(env.now) {
		t.Fatalf("profile = %+v", profile)
	}
}

func TestHandleActivityStatePersistsBetweenTurns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{users: directoryUsers})
	turns := []contractx.Activity{
		env.message("c1", "hello"),
		env.tokenEvent("c1", "tok-1"),
		env.message("c1", "555-1111"),
		env.tokenEvent("c1", "tok-2"),
		env.message("c1", "again"),
	}
	for _, act := range turns {
		env.handle(t, act)
	}

	saved := env.store.savedWithScope(statex.ScopeConversation)
	if len(saved) != len(turns) {
		t.Fatalf("expected one conversation save per turn, got %d", len(saved))
	}

	var loaded []*statex.Record
	env.store.mu.Lock()
	for _, r := range env.store.loaded {
		if r.Scope == statex.ScopeConversation {
			loaded = append(loaded, r)
		}
	}
	env.store.mu.Unlock()

	// The first turn starts from nothing; every later turn must load exactly
	// what the previous one saved.
	if len(loaded) != len(turns)-1 {
		t.Fatalf("expected %d conversation loads, got %d", len(turns)-1, len(loaded))
	}
	for i := range loaded {
		want, got := saved[i].Values[dialogx.StateKey], loaded[i].Values[dialogx.StateKey]
		if !jsonEqual(t, want, got) {
			t.Fatalf("turn %d loaded %s, previous turn saved %s", i+2, got, want)
		}
	}
}

func jsonEqual(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()

	var x, y any
	if err := json.Unmarshal(a, &x); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(b, &y); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	xs, _ := json.Marshal(x)
	ys, _ := json.Marshal(y)
	return string(xs) == string(ys)
}

func TestHandleActivityWelcomeExcludesBot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{})

	onlyBot := env.activity("c1", contractx.ActivityConversationUpdate)
	onlyBot.MembersAdded = []contractx.ChannelAccount{{ID: "bot"}}
	out, sender := env.handle(t, onlyBot)
	if out.Category != nodex.CategoryMembership {
		t.Fatalf("category = %q", out.Category)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("bot-only membership change sent %d messages", len(sender.sent))
	}

	mixed := env.activity("c1", contractx.ActivityConversationUpdate)
	mixed.MembersAdded = []contractx.ChannelAccount{{ID: "bot"}, {ID: "user-2"}, {ID: "user-3"}}
	_, sender = env.handle(t, mixed)
	got := sender.texts()
	if len(got) != 2 || got[0] != "Welcome to SLGreen Bot. Type anything to get started." {
		t.Fatalf("welcome messages = %q", got)
	}
	if st := env.dialogState(t, "c1"); len(st.Stack) != 0 {
		t.Fatalf("membership change started a dialog: %+v", st.Stack)
	}
}

func TestHandleActivityConversationsAreIsolated(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{users: directoryUsers})

	// c1 waits on the phone prompt, c2 on the first login prompt.
	env.handle(t, env.message("c1", "hello"))
	env.handle(t, env.tokenEvent("c1", "tok"))
	env.handle(t, env.message("c2", "hello"))

	c1Resume := env.message("c1", "555-2222")
	c2Resume := env.tokenEvent("c2", "tok")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, act := range []contractx.Activity{c2Resume, c1Resume} {
		act := act
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.dispatcher.HandleActivity(context.Background(), act, &recordingSender{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("HandleActivity() error = %v", err)
	}

	c1 := env.dialogState(t, "c1")
	c2 := env.dialogState(t, "c2")
	if len(c1.Stack) != 2 || c1.Stack[0].StepIndex != 3 || c1.Stack[1].DialogID != lookup.OAuthPromptID {
		t.Fatalf("c1 stack = %+v", c1.Stack)
	}
	if len(c2.Stack) != 2 || c2.Stack[0].StepIndex != 2 || c2.Stack[1].DialogID != lookup.PhonePromptID {
		t.Fatalf("c2 stack = %+v", c2.Stack)
	}
}

func TestHandleActivityDuplicateIsNotReplayed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{users: directoryUsers})
	env.handle(t, env.message("c1", "hello"))

	resume := env.tokenEvent("c1", "tok")
	env.handle(t, resume)
	before := env.dialogState(t, "c1")

	out, sender := env.handle(t, resume)
	if out.Status != dialogx.StatusDuplicate || len(sender.sent) != 0 {
		t.Fatalf("replay = %+v, sent %d", out, len(sender.sent))
	}
	after := env.dialogState(t, "c1")
	if after.Stack[0].StepIndex != before.Stack[0].StepIndex || len(after.Stack) != len(before.Stack) {
		t.Fatalf("replay advanced the dialog: before %+v after %+v", before.Stack, after.Stack)
	}
}

func TestHandleActivityOlderResumeIsNotReplayed(t *testing.T) {
	t.Parallel()

	dir := &countingDirectory{users: directoryUsers}
	env := newTestEnv(t, fakeDirectory{}, withDirectory(dir))
	env.handle(t, env.message("c1", "hello"))

	firstLogin := env.tokenEvent("c1", "tok-1")
	env.handle(t, firstLogin)
	env.handle(t, env.message("c1", "555-2222"))

	before := env.dialogState(t, "c1")
	if len(before.Stack) != 2 || before.Stack[1].DialogID != lookup.OAuthPromptID {
		t.Fatalf("expected second login pending, stack %+v", before.Stack)
	}

	out, sender := env.handle(t, firstLogin)
	if out.Status != dialogx.StatusDuplicate || len(sender.sent) != 0 {
		t.Fatalf("redelivered login = %+v, sent %q", out, sender.texts())
	}
	if len(dir.tokens) != 0 {
		t.Fatalf("directory called with %q on a redelivered login", dir.tokens)
	}
	after := env.dialogState(t, "c1")
	if len(after.Stack) != 2 || after.Stack[0].StepIndex != before.Stack[0].StepIndex {
		t.Fatalf("redelivered login advanced the dialog: %+v", after.Stack)
	}

	out, _ = env.handle(t, env.tokenEvent("c1", "tok-2"))
	if out.Status != dialogx.StatusComplete || out.Result.Text != "Bob" {
		t.Fatalf("fresh login = %+v", out)
	}
	if len(dir.tokens) != 1 || dir.tokens[0] != "tok-2" {
		t.Fatalf("directory tokens = %q, want [tok-2]", dir.tokens)
	}
}

func TestHandleActivityLogout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{})
	env.handle(t, env.message("c1", "hello"))

	out, sender := env.handle(t, env.message("c1", " Logout "))
	if out.Category != nodex.CategoryLogout {
		t.Fatalf("category = %q", out.Category)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != "You have been signed out." {
		t.Fatalf("sent %q", got)
	}
	if st := env.dialogState(t, "c1"); len(st.Stack) != 0 {
		t.Fatalf("logout left a stack: %+v", st.Stack)
	}
	if len(env.tokens.signOuts) != 1 || env.tokens.signOuts[0].ConnectionName != "graph" || env.tokens.signOuts[0].UserID != "user-1" {
		t.Fatalf("sign-outs = %+v", env.tokens.signOuts)
	}
}

func TestHandleActivityLoginTimeout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{users: directoryUsers})
	env.handle(t, env.message("c1", "hello"))

	env.now = env.now.Add(dialogx.DefaultLoginTimeout + time.Minute)
	out, sender := env.handle(t, env.tokenEvent("c1", "late"))
	if out.Status != dialogx.StatusAborted {
		t.Fatalf("status = %q, want aborted", out.Status)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != "We couldn't log you in. Please try again later." {
		t.Fatalf("sent %q", got)
	}
	if st := env.dialogState(t, "c1"); len(st.Stack) != 0 {
		t.Fatalf("timed out stack not cleared: %+v", st.Stack)
	}
}

func TestHandleActivityUnrecoverableSendsGenericError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{err: errors.New("connection reset")})
	env.handle(t, env.message("c1", "hello"))
	env.handle(t, env.tokenEvent("c1", "tok"))
	env.handle(t, env.message("c1", "555-2222"))

	out, sender := env.handle(t, env.tokenEvent("c1", "tok"))
	if out.Status != dialogx.StatusAborted {
		t.Fatalf("status = %q, want aborted", out.Status)
	}
	if got := sender.texts(); len(got) != 1 || got[0] != "Sorry, something went wrong. Please try again." {
		t.Fatalf("sent %q", got)
	}
	if st := env.dialogState(t, "c1"); len(st.Stack) != 0 {
		t.Fatalf("aborted stack not cleared: %+v", st.Stack)
	}

	// The next message starts the dialog over.
	out, _ = env.handle(t, env.message("c1", "hello again"))
	if out.Status != dialogx.StatusWaiting {
		t.Fatalf("restart status = %q", out.Status)
	}
}

func TestHandleActivityInvokeGetsResponse(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{})
	act := env.activity("c1", contractx.ActivityInvoke)
	act.Name = contractx.InvokeVerifySignIn
	act.Value = map[string]any{"state": "123456"}

	out, _ := env.handle(t, act)
	if out.Category != nodex.CategoryVerifySignIn {
		t.Fatalf("category = %q", out.Category)
	}
	if out.Invoke == nil || out.Invoke.Status != http.StatusOK {
		t.Fatalf("invoke = %+v, want 200", out.Invoke)
	}
}

func TestHandleActivityIgnoredStillSaves(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{})
	out, sender := env.handle(t, env.activity("c1", "typing"))
	if out.Category != nodex.CategoryIgnored || out.Status != dialogx.StatusEmpty {
		t.Fatalf("out = %+v", out)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("ignored activity sent %d messages", len(sender.sent))
	}
	if len(env.store.savedWithScope(statex.ScopeConversation)) != 1 || len(env.store.savedWithScope(statex.ScopeUser)) != 1 {
		t.Fatalf("expected both records saved, got %d", len(env.store.saved))
	}
}

func TestHandleActivitySaveErrorPropagates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{})
	saveErr := errors.New("disk full")
	env.store.saveErr = saveErr

	_, err := env.dispatcher.HandleActivity(context.Background(), env.message("c1", "hello"), &recordingSender{})
	if !errors.Is(err, saveErr) {
		t.Fatalf("expected save error, got %v", err)
	}
}

func TestHandleActivityCancelledTurnIsNotSaved(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, fakeDirectory{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.dispatcher.HandleActivity(ctx, env.message("c1", "hello"), &recordingSender{}); err == nil {
		t.Fatal("expected error for cancelled turn")
	}
	if len(env.store.saved) != 0 {
		t.Fatalf("cancelled turn saved %d records", len(env.store.saved))
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}, Config{}); err == nil {
		t.Fatal("expected error for missing store")
	}
	if _, err := New(Deps{Conversations: statex.NewMemoryStore()}, Config{}); err == nil {
		t.Fatal("expected error for missing engine")
	}
}
