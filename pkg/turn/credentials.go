// Package turn fetches time-limited TURN relay credentials from the
// session control endpoint.
package turn

import (
	"fmt"
	"time"
)

// Credentials are the relay username/password pair handed out per
// session, with the relay URIs they are valid for. They are sensitive:
// String redacts them, and callers must not log the raw fields.
type Credentials struct {
	Username string
	Password string
	TTL      time.Duration
	URIs     []string
}

// String implements fmt.Stringer with the secret fields redacted.
func (c Credentials) String() string {
	return fmt.Sprintf("turn.Credentials{Username:<redacted> Password:<redacted> TTL:%v URIs:%d}", c.TTL, len(c.URIs))
}
