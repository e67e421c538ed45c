package cli_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinsi/kinsi/cmd/kinsi/cli"
	"github.com/kinsi/kinsi/internal/shared"
	_ "github.com/kinsi/kinsi/testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubcommands(t *testing.T) {
	want := map[string]bool{
		"serve": false, "login": false, "signup": false, "google-login": false,
		"logout": false, "whoami": false, "routes": false,
	}
	for _, cmd := range cli.NewRootCommand().Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "subcommand %q not registered", name)
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	var logouts atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "POST /login":
			_, _ = w.Write([]byte(`{"access_token":"tok","user":{"id":11,"role":"user","username":"dana"}}`))
		case "GET /me":
			_, _ = w.Write([]byte(`{"user":{"id":11,"role":"user","username":"dana"}}`))
		case "POST /logout":
			logouts.Add(1)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()
	file := filepath.Join(t.TempDir(), "kinsi", "session.yaml")
	flags := []string{"--api", api.URL, "--session-file", file}

	out, err := run(t, append([]string{"login", "--email", "d@b.com", "--password", "Secret123!"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "Signed in as dana (role user). Landing page: /userdashboard\n", out)
	_, err = os.Stat(file)
	require.NoError(t, err)

	out, err = run(t, append([]string{"whoami"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "Signed in as dana (role user, id 11)\n", out)

	out, err = run(t, append([]string{"logout"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "Signed out.\n", out)
	assert.Equal(t, int32(1), logouts.Load())
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))

	out, err = run(t, append([]string{"whoami"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "Not signed in.\n", out)
}

func TestWhoamiDiscardsRejectedToken(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Token has expired"}`))
	}))
	defer api.Close()
	file := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(file, []byte("accessToken: old\nrole: vendor\nuser_id: \"2\"\nusername: bob\n"), 0o600))

	out, err := run(t, "whoami", "--api", api.URL, "--session-file", file)
	require.NoError(t, err)
	assert.Equal(t, "Not signed in.\n", out)
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))
}

func TestSignupReportsFieldErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "session.yaml")
	out, err := run(t, "signup", "--username", "al", "--email", "a@b.com", "--password", "Secret123!",
		"--api", "http://127.0.0.1:0", "--session-file", file)
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, "  username: must be at least 3 characters\n", out)
}

func TestRoutes(t *testing.T) {
	out, err := run(t, "routes")
	require.NoError(t, err)
	assert.Contains(t, out, "/vendorpage")
	assert.Contains(t, out, "/account")
	assert.Contains(t, out, "any")

	out, err = run(t, "routes", "--check", "/vendorpage")
	require.NoError(t, err)
	assert.Equal(t, "redirect_signin /signin\n", out)

	out, err = run(t, "routes", "--check", "/vendorpage", "--role", "vendor")
	require.NoError(t, err)
	assert.Equal(t, "render\n", out)

	out, err = run(t, "routes", "--check", "/admin/reports", "--role", "user")
	require.NoError(t, err)
	assert.Equal(t, "redirect_unauthorized /unauthorized\n", out)
}

func TestServeSkipsInTestMode(t *testing.T) {
	_, err := run(t, "serve", "--addr", "127.0.0.1:0")
	require.NoError(t, err)
}
