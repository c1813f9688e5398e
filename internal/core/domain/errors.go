package domain

import "errors"

// Sentinel errors matching the error taxonomy: AuthFailed, ProtocolViolation,
// NotConnected, SignalingStateUnready, RoutingFailure, SourceClosed,
// ResourceLimit. Propagation is always local — these never unwind past the
// component that raised them.
var (
	ErrAuthFailed             = errors.New("authentication failed")
	ErrProtocolViolation      = errors.New("protocol violation")
	ErrSessionNotFound        = errors.New("voice channel session not found")
	ErrPeerConnectionNotFound = errors.New("peer connection not found")
	ErrRouterNotFound         = errors.New("track router not found")
	ErrSignalingNotReady      = errors.New("peer connection not ready for signaling operation")
	ErrResourceLimit          = errors.New("resource limit reached")
	ErrSourceClosed           = errors.New("source track closed")

	// Retained for the REST surface (auth, channel directory lookups) that
	// rides alongside the SFU.
	ErrUserNotFound = errors.New("user not found")
)
