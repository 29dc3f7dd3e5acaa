package chat

import (
	"errors"
	"fmt"
)

// ErrExchangeInFlight is returned when a message is sent while the session's
// previous exchange has not yet resolved. Exchanges are serialized.
var ErrExchangeInFlight = errors.New("an exchange is already awaiting a reply")

// ErrSessionClosed is returned when a message is sent on a torn-down session.
var ErrSessionClosed = errors.New("session is closed")

// CredentialError means token issuance failed. Fatal to remote-mode
// establishment; callers must surface it and must not silently switch modes.
type CredentialError struct {
	Identity string
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential issuance failed for %q: %v", e.Identity, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// SessionCreationError means the remote conversation resource could not be
// created. Fatal to establishment.
type SessionCreationError struct {
	AssistantID string
	Err         error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("remote conversation creation failed for assistant %q: %v", e.AssistantID, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// BridgeError means message submission failed after the session was
// established. Recovery is caller policy: fail loud, or degrade to the local
// responder when Config.FallbackToLocal is set.
type BridgeError struct {
	SessionID string
	Err       error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("message submission failed on session %s: %v", e.SessionID, e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }
