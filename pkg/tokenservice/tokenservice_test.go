package tokenservice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
)

type fakeTokenAPI struct {
	mux  *http.ServeMux
	auth []string
}

func newTestClient(t *testing.T, register func(mux *http.ServeMux)) (*Client, *fakeTokenAPI) {
	t.Helper()

	api := &fakeTokenAPI{mux: http.NewServeMux()}
	api.mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"bot-token","token_type":"bearer","expires_in":3600}`)
	})
	register(api.mux)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			api.auth = append(api.auth, r.Header.Get("Authorization"))
		}
		api.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), Config{
		BaseURL:     server.URL,
		AppID:       "app-id",
		AppPassword: "secret",
		TokenURL:    server.URL + "/oauth/token",
		Scope:       "https://api.botframework.com/.default",
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, api
}

func TestClientGetUserToken(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	client, api := newTestClient(t, func(mux *http.ServeMux) {
		mux.HandleFunc("/api/usertoken/GetToken", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			gotQuery = map[string]string{
				"userId":         q.Get("userId"),
				"connectionName": q.Get("connectionName"),
				"channelId":      q.Get("channelId"),
				"code":           q.Get("code"),
			}
			fmt.Fprint(w, `{"token":"user-token","connectionName":"graph","channelId":"msteams"}`)
		})
	})

	tok, err := client.GetUserToken(context.Background(), contractx.UserTokenRequest{
		UserID:         "user-1",
		ConnectionName: "graph",
		ChannelID:      "msteams",
		MagicCode:      "123456",
	})
	if err != nil {
		t.Fatalf("GetUserToken() error = %v", err)
	}
	if tok == nil || tok.Token != "user-token" {
		t.Fatalf("GetUserToken() = %+v", tok)
	}
	if gotQuery["userId"] != "user-1" || gotQuery["code"] != "123456" || gotQuery["connectionName"] != "graph" {
		t.Fatalf("query = %v", gotQuery)
	}
	if len(api.auth) != 1 || api.auth[0] != "Bearer bot-token" {
		t.Fatalf("Authorization = %v, want Bearer bot-token", api.auth)
	}
}

func TestClientGetUserTokenNotFound(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(mux *http.ServeMux) {
		mux.HandleFunc("/api/usertoken/GetToken", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	})

	tok, err := client.GetUserToken(context.Background(), contractx.UserTokenRequest{UserID: "u", ConnectionName: "graph"})
	if err != nil {
		t.Fatalf("GetUserToken() error = %v", err)
	}
	if tok != nil {
		t.Fatalf("GetUserToken() = %+v, want nil", tok)
	}
}

func TestClientGetSignInLinkEncodesState(t *testing.T) {
	t.Parallel()

	var state signInState
	client, _ := newTestClient(t, func(mux *http.ServeMux) {
		mux.HandleFunc("/api/botsignin/GetSignInUrl", func(w http.ResponseWriter, r *http.Request) {
			raw, err := base64.URLEncoding.DecodeString(r.URL.Query().Get("state"))
			if err == nil {
				_ = json.Unmarshal(raw, &state)
			}
			fmt.Fprint(w, "https://token.example/signin?x=1\n")
		})
	})

	link, err := client.GetSignInLink(context.Background(), contractx.UserTokenRequest{
		UserID:         "user-1",
		ConnectionName: "graph",
		ChannelID:      "msteams",
		ConversationID: "conv-1",
	})
	if err != nil {
		t.Fatalf("GetSignInLink() error = %v", err)
	}
	if link != "https://token.example/signin?x=1" {
		t.Fatalf("GetSignInLink() = %q", link)
	}
	if state.MsAppID != "app-id" || state.ConversationID != "conv-1" || state.ConnectionName != "graph" {
		t.Fatalf("state = %+v", state)
	}
}

func TestClientSignOut(t *testing.T) {
	t.Parallel()

	var method string
	client, _ := newTestClient(t, func(mux *http.ServeMux) {
		mux.HandleFunc("/api/usertoken/SignOut", func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			w.WriteHeader(http.StatusOK)
		})
	})

	if err := client.SignOut(context.Background(), contractx.UserTokenRequest{UserID: "u", ConnectionName: "graph"}); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if method != http.MethodDelete {
		t.Fatalf("method = %s, want DELETE", method)
	}
}

func TestClientSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(mux *http.ServeMux) {
		mux.HandleFunc("/api/usertoken/SignOut", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
	})

	if err := client.SignOut(context.Background(), contractx.UserTokenRequest{UserID: "u"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), Config{BaseURL: "https://api.example", AppPassword: "s"}); err == nil {
		t.Fatal("expected error for missing app id")
	}
	if _, err := NewClient(context.Background(), Config{BaseURL: "https://api.example", AppID: "a"}); err == nil {
		t.Fatal("expected error for missing app password")
	}
}
