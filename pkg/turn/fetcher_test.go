package turn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/meetkit/pkg/status"
)

func TestFetchParsesCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer join-token", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "meeting-1", req["meetingId"])

		json.NewEncoder(w).Encode(map[string]any{
			"username": "user",
			"password": "pass",
			"ttl":      1800,
			"uris":     []string{"turn:relay.example.com:443?transport=tcp"},
		})
	}))
	defer srv.Close()

	f := &Fetcher{ControlURL: srv.URL, JoinToken: "join-token"}
	creds, err := f.Fetch(context.Background(), "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, "user", creds.Username)
	assert.Equal(t, "pass", creds.Password)
	assert.Equal(t, 30*time.Minute, creds.TTL)
	assert.Len(t, creds.URIs, 1)
}

func TestFetchStatusMapping(t *testing.T) {
	cases := []struct {
		code int
		want status.SessionStatus
	}{
		{http.StatusForbidden, status.TURNCredentialsForbidden},
		{http.StatusNotFound, status.MeetingEnded},
		{http.StatusInternalServerError, status.SignalingRequestFailed},
		{http.StatusBadGateway, status.SignalingRequestFailed},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		f := &Fetcher{ControlURL: srv.URL, JoinToken: "tok"}
		_, err := f.Fetch(context.Background(), "meeting-1")
		require.Error(t, err, "code %d", tc.code)
		assert.Equal(t, tc.want, status.FromError(err), "code %d", tc.code)
		srv.Close()
	}
}

func TestFetchTransportFailure(t *testing.T) {
	f := &Fetcher{ControlURL: "http://127.0.0.1:1", JoinToken: "tok"}
	_, err := f.Fetch(context.Background(), "meeting-1")
	require.Error(t, err)
	assert.Equal(t, status.SignalingRequestFailed, status.FromError(err))
}

func TestCredentialsStringRedacts(t *testing.T) {
	c := Credentials{Username: "secret-user", Password: "secret-pass", TTL: time.Minute}
	s := c.String()
	assert.NotContains(t, s, "secret-user")
	assert.NotContains(t, s, "secret-pass")
	assert.Contains(t, s, "<redacted>")
}
