package cli

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestRootCommandUnknown(t *testing.T) {
	root := NewRootCommand()

	cmd, ok := root.Subcommands["plugins"]
	require.True(t, ok)
	assert.NotNil(t, cmd.Run)

	_, ok = root.Subcommands["nope"]
	assert.False(t, ok)
}

func TestPluginsCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/plugins", r.URL.Path)
		assert.Equal(t, "active", r.URL.Query().Get("filter"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"sonarr","version":"1.0.0","state":"active"}]`))
	}))
	defer ts.Close()

	cmd := newPluginsCommand()
	err := cmd.Run([]string{"-addr", ts.Listener.Addr().String(), "-filter", "active"})
	assert.NoError(t, err)
}

func TestHealthCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer ts.Close()

	cmd := newHealthCommand()
	assert.NoError(t, cmd.Run([]string{"-addr", ts.Listener.Addr().String()}))
}

func TestFetchErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := fetch(ts.Listener.Addr().String(), "/api/v1/plugins")
	assert.Error(t, err)

	_, err = fetch("127.0.0.1:1", "/healthz")
	assert.Error(t, err)
}

func TestSecretCommands(t *testing.T) {
	keyring.MockInit()

	secret := newSecretCommand()

	getCmd := secret.Subcommands["get"]
	_, found := secret.Subcommands["set"]
	require.True(t, found)

	err := getCmd.Run([]string{"sonarr"})
	assert.Error(t, err, "unset key reads as not found")

	assert.Error(t, secret.Run(nil))
	assert.Error(t, secret.Run([]string{"frobnicate"}))
	assert.Error(t, getCmd.Run(nil))
}
