package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/meetkit/pkg/status"
)

// Fetcher requests TURN credentials from the control URL with the join
// token as bearer authorization.
type Fetcher struct {
	ControlURL string
	JoinToken  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type fetchRequest struct {
	MeetingID string `json:"meetingId"`
}

type fetchResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int64    `json:"ttl"`
	URIs     []string `json:"uris"`
}

func (f *Fetcher) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Fetch POSTs the meeting id to the control URL and parses the returned
// credentials. A 403 response is a terminal forbidden condition, 404
// means the meeting no longer exists, and any other failure is a generic
// signaling connectivity failure.
func (f *Fetcher) Fetch(ctx context.Context, meetingID string) (*Credentials, error) {
	body, err := json.Marshal(fetchRequest{MeetingID: meetingID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode TURN request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.ControlURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build TURN request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.JoinToken)

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, status.NewError(status.SignalingRequestFailed, "ReceiveTURNCredentials", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, status.NewError(status.TURNCredentialsForbidden, "ReceiveTURNCredentials", nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, status.NewError(status.MeetingEnded, "ReceiveTURNCredentials", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, status.NewError(status.SignalingRequestFailed, "ReceiveTURNCredentials",
			errors.Errorf("unexpected response %d", resp.StatusCode))
	}

	var parsed fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, status.NewError(status.SignalingRequestFailed, "ReceiveTURNCredentials",
			errors.Wrap(err, "failed to decode TURN response"))
	}

	creds := &Credentials{
		Username: parsed.Username,
		Password: parsed.Password,
		TTL:      time.Duration(parsed.TTL) * time.Second,
		URIs:     parsed.URIs,
	}
	f.logger().Debug("TURN credentials received",
		slog.String("credentials", creds.String()))
	return creds, nil
}
