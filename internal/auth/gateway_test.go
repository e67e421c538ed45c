package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinsi/kinsi/internal/auth"
	"github.com/kinsi/kinsi/internal/identity"
	"github.com/kinsi/kinsi/internal/session"
	"github.com/kinsi/kinsi/internal/shared"
)

type stubAPI struct {
	status int
	body   string
}

func identityServer(t *testing.T, routes map[string]stubAPI) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stub.status)
		_, _ = w.Write([]byte(stub.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) AuthOutcome(flow, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, flow+":"+result)
}

func newStore(t *testing.T, client *identity.Client, values map[string]string) (*session.Store, *session.MemoryStorage) {
	t.Helper()
	storage := session.NewMemoryStorage(values)
	store := session.NewStore(storage, client, session.Options{})
	return store, storage
}

func TestLoginEstablishesSession(t *testing.T) {
	srv := identityServer(t, map[string]stubAPI{
		"POST /login": {status: 200, body: `{"access_token":"tok1","user":{"id":42,"role":"user","username":"alice"}}`},
	})
	client := identity.NewClient(srv.URL)
	store, storage := newStore(t, client, nil)
	rec := &recorder{}
	gateway := auth.NewGateway(client, auth.Options{Recorder: rec})

	out, err := gateway.Login(context.Background(), store, "a@b.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, auth.Outcome{Role: "user", UserID: "42", Username: "alice", Redirect: "/userdashboard"}, out)

	current, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, session.Session{Role: "user", UserID: "42", Username: "alice", Token: "tok1"}, current)
	values, _ := storage.Load(context.Background())
	assert.Equal(t, map[string]string{
		session.KeyAccessToken: "tok1",
		session.KeyRole:        "user",
		session.KeyUserID:      "42",
		session.KeyUsername:    "alice",
	}, values)
	assert.Equal(t, []string{"login:ok"}, rec.events)
}

func TestLoginInvalidCredentialsLeavesSessionUntouched(t *testing.T) {
	srv := identityServer(t, map[string]stubAPI{
		"POST /login": {status: 401, body: `{"error":"bad credentials"}`},
	})
	client := identity.NewClient(srv.URL)

	t.Run("anonymous", func(t *testing.T) {
		store, storage := newStore(t, client, nil)
		require.NoError(t, store.Initialize(context.Background()))

		_, err := auth.NewGateway(client, auth.Options{}).Login(context.Background(), store, "a@b.com", "secret")
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInvalidCredentials))
		var failure *auth.Failure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, auth.KindInvalidCredentials, failure.Kind)
		assert.Equal(t, "bad credentials", failure.Message)

		assert.Equal(t, session.StateAnonymous, store.Snapshot().State)
		values, _ := storage.Load(context.Background())
		assert.Empty(t, values)
	})

	t.Run("existing session", func(t *testing.T) {
		store, _ := newStore(t, client, nil)
		existing := session.Session{Role: "vendor", UserID: "7", Username: "bob", Token: "keep"}
		require.NoError(t, store.SetSession(context.Background(), existing))

		_, err := auth.NewGateway(client, auth.Options{}).Login(context.Background(), store, "a@b.com", "secret")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)

		current, ok := store.Current()
		require.True(t, ok)
		assert.Equal(t, existing, current)
	})
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name string
		stub stubAPI
		kind auth.Kind
		want error
	}{
		{name: "bad request", stub: stubAPI{400, `{"error":"Email and password are required"}`}, kind: auth.KindValidation, want: shared.ErrValidation},
		{name: "conflict", stub: stubAPI{409, `{"error":"Email already registered"}`}, kind: auth.KindValidation, want: shared.ErrValidation},
		{name: "forbidden", stub: stubAPI{403, `{"error":"Account disabled"}`}, kind: auth.KindInvalidCredentials, want: shared.ErrInvalidCredentials},
		{name: "server", stub: stubAPI{500, `{"error":"boom"}`}, kind: auth.KindServer, want: shared.ErrServer},
		{name: "not found", stub: stubAPI{404, ``}, kind: auth.KindServer, want: shared.ErrServer},
		{name: "malformed json", stub: stubAPI{200, `not json`}, kind: auth.KindServer, want: shared.ErrServer},
		{name: "missing user", stub: stubAPI{200, `{"access_token":"t"}`}, kind: auth.KindServer, want: shared.ErrServer},
		{name: "missing token", stub: stubAPI{200, `{"user":{"id":1,"role":"user","username":"a"}}`}, kind: auth.KindServer, want: shared.ErrServer},
		{name: "partial user", stub: stubAPI{200, `{"access_token":"t","user":{"id":1,"role":"user"}}`}, kind: auth.KindServer, want: shared.ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := identityServer(t, map[string]stubAPI{"POST /google-login": tt.stub})
			client := identity.NewClient(srv.URL)
			store, storage := newStore(t, client, nil)

			_, err := auth.NewGateway(client, auth.Options{}).LoginWithFederatedCredential(context.Background(), store, "google-jwt")
			var failure *auth.Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.kind, failure.Kind)
			assert.ErrorIs(t, err, tt.want)

			values, _ := storage.Load(context.Background())
			assert.Empty(t, values)
		})
	}
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := identity.NewClient(srv.URL)
	srv.Close()
	store, _ := newStore(t, client, nil)

	_, err := auth.NewGateway(client, auth.Options{}).Login(context.Background(), store, "a@b.com", "secret")
	var failure *auth.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, auth.KindNetwork, failure.Kind)
	assert.ErrorIs(t, err, shared.ErrNetwork)
}

func TestLocalValidationSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	client := identity.NewClient(srv.URL)
	store, _ := newStore(t, client, nil)
	gateway := auth.NewGateway(client, auth.Options{})

	_, err := gateway.Login(context.Background(), store, "", "")
	var failure *auth.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, auth.KindValidation, failure.Kind)
	assert.Equal(t, map[string]string{"email": "is required", "password": "is required"}, failure.Fields)

	_, err = gateway.Signup(context.Background(), store, "al", "not-an-email", "short", "admin")
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, auth.KindValidation, failure.Kind)
	assert.Equal(t, "must be at least 3 characters", failure.Fields["username"])
	assert.Equal(t, "must be a valid email address", failure.Fields["email"])
	assert.Equal(t, "must be at least 8 characters", failure.Fields["password"])
	assert.Equal(t, "must be one of: user, vendor", failure.Fields["role"])

	_, err = gateway.LoginWithFederatedCredential(context.Background(), store, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	assert.Zero(t, hits.Load())
}

func TestSignupWithEnvelope(t *testing.T) {
	var registered map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"access_token":"tok","user":{"id":3,"role":"vendor","username":"florist"}}`))
	}))
	defer srv.Close()
	client := identity.NewClient(srv.URL)
	store, _ := newStore(t, client, nil)

	out, err := auth.NewGateway(client, auth.Options{}).Signup(context.Background(), store, "florist", "f@b.com", "Secret123!", "Vendor")
	require.NoError(t, err)
	assert.Equal(t, "/vendorpage", out.Redirect)
	assert.Equal(t, map[string]string{"username": "florist", "email": "f@b.com", "password": "Secret123!", "role": "vendor"}, registered)
	current, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "vendor", current.Role)
}

func TestSignupFollowsUpWithLogin(t *testing.T) {
	srv := identityServer(t, map[string]stubAPI{
		"POST /register": {status: 201, body: `{"message":"User registered successfully","user":{"id":8,"role":"user","username":"dana"}}`},
		"POST /login":    {status: 200, body: `{"access_token":"tok8","user":{"id":8,"role":"user","username":"dana"}}`},
	})
	client := identity.NewClient(srv.URL)
	store, _ := newStore(t, client, nil)

	out, err := auth.NewGateway(client, auth.Options{}).Signup(context.Background(), store, "dana", "d@b.com", "Secret123!", "")
	require.NoError(t, err)
	assert.Equal(t, "user", out.Role)
	current, _ := store.Current()
	assert.Equal(t, "tok8", current.Token)
}

func TestSignupNormalisesFieldErrors(t *testing.T) {
	srv := identityServer(t, map[string]stubAPI{
		"POST /register": {status: 400, body: `{"errors":{"password":"Password must be at least 8 characters long"}}`},
	})
	client := identity.NewClient(srv.URL)
	store, _ := newStore(t, client, nil)

	_, err := auth.NewGateway(client, auth.Options{}).Signup(context.Background(), store, "dana", "d@b.com", "Secret123", "user")
	var failure *auth.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, auth.KindValidation, failure.Kind)
	assert.Equal(t, "Password must be at least 8 characters long", failure.Fields["password"])
}

func TestLogoutWhenAnonymous(t *testing.T) {
	client := identity.NewClient("http://127.0.0.1:0")
	store, _ := newStore(t, client, nil)
	gateway := auth.NewGateway(client, auth.Options{})

	require.NoError(t, gateway.Logout(context.Background(), store))
	require.NoError(t, gateway.Logout(context.Background(), store))
	assert.Equal(t, session.StateAnonymous, store.Snapshot().State)
}

func TestRefreshUnreachableFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := identity.NewClient(srv.URL)
	srv.Close()
	store, storage := newStore(t, client, nil)
	require.NoError(t, store.SetSession(context.Background(), session.Session{Role: "user", UserID: "1", Username: "a", Token: "t"}))
	rec := &recorder{}

	_, err := auth.NewGateway(client, auth.Options{Recorder: rec}).Refresh(context.Background(), store)
	var failure *auth.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, auth.KindNetwork, failure.Kind)
	assert.Equal(t, session.StateAnonymous, store.Snapshot().State)
	values, _ := storage.Load(context.Background())
	assert.Empty(t, values)
	assert.Equal(t, []string{"refresh:network_error"}, rec.events)
}

func TestLandingPage(t *testing.T) {
	gateway := auth.NewGateway(nil, auth.Options{})
	assert.Equal(t, "/userdashboard", gateway.LandingPage("User"))
	assert.Equal(t, "/vendorpage", gateway.LandingPage("vendor"))
	assert.Equal(t, "/", gateway.LandingPage("planner"))
}
