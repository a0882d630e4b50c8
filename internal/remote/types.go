package remote

import (
	"encoding/json"
	"fmt"
)

// FailureKind classifies why a remote call did not succeed. The sync engine
// keys its retry decisions off this, never off raw status codes.
type FailureKind string

const (
	// FailureNetwork covers unreachable host, DNS, timeout, connection reset.
	FailureNetwork FailureKind = "network"
	// FailureAuth is 401/403 or a locally-detected expired token.
	FailureAuth FailureKind = "auth"
	// FailureValidation is a 4xx rejection of the payload itself.
	FailureValidation FailureKind = "validation"
	// FailureServer is any 5xx.
	FailureServer FailureKind = "server"
	// FailureConflict is a 409 business-rule collision.
	FailureConflict FailureKind = "conflict"
)

// Failure is the classified error every client method returns on a
// non-success outcome.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("remote %s (%d): %s", f.Kind, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("remote %s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Transient reports whether the same payload might succeed if retried later.
// Network and server failures are transient; validation and conflict are
// semantic and retrying an unchanged payload cannot help.
func (f *Failure) Transient() bool {
	return f.Kind == FailureNetwork || f.Kind == FailureServer
}

// Response is the envelope every server endpoint answers with.
type Response struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"-"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// BatchAck is one per-record result inside a batch create response. The
// server echoes the client's local id so results can be matched back.
type BatchAck struct {
	LocalID  uint            `json:"localId"`
	ServerID int64           `json:"serverId"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// PullResult is one remote entity returned by the changes feed.
type PullResult struct {
	EntityType string          `json:"entityType"`
	ServerID   int64           `json:"serverId"`
	UpdatedAt  string          `json:"updatedAt"`
	Deleted    bool            `json:"deleted"`
	Data       json.RawMessage `json:"data"`
}
