package channel

import "errors"

var (
	// ErrCredentialUnavailable means the issuance collaborator refused or was
	// unreachable; the session must not start.
	ErrCredentialUnavailable = errors.New("ephemeral credential unavailable")

	// ErrCredentialExpired triggers a transparent re-issue and reconnect. No
	// audio is replayed: the provider is the source of truth for what it
	// already received.
	ErrCredentialExpired = errors.New("ephemeral credential expired")

	// ErrConnectionDropped is a transient transport failure handled by the
	// reconnect policy.
	ErrConnectionDropped = errors.New("provider connection dropped")

	// ErrRateLimited is surfaced to the caller; the session is paused rather
	// than ended.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnrecoverable means the reconnect budget is exhausted; the session
	// must end with reason "channel-unrecoverable".
	ErrUnrecoverable = errors.New("provider channel unrecoverable")

	// ErrChannelClosed is returned by Send after Close.
	ErrChannelClosed = errors.New("channel closed")
)
