// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Messaging constants
const (
	// MessagePersistTimeout bounds the asynchronous persistence of a chat message
	MessagePersistTimeout = 10 * time.Second

	// MessageHistoryDefaultLimit is the default page size for message history
	MessageHistoryDefaultLimit = 50

	// MessageHistoryMaxLimit is the maximum page size for message history
	MessageHistoryMaxLimit = 200
)

// Call constants
const (
	// CallHistoryDefaultLimit is the default page size for call history
	CallHistoryDefaultLimit = 20

	// CallHistoryMaxLimit is the maximum page size for call history
	CallHistoryMaxLimit = 100
)

// Presence constants
const (
	// PresenceTTL is how long a presence mark survives without a refresh
	PresenceTTL = 5 * time.Minute
)

// Push notification constants
const (
	// PushTokenExpiry is the retention period for registered push tokens
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Storage constants
const (
	// PresignedURLExpiry is the validity period for presigned upload URLs
	PresignedURLExpiry = 15 * time.Minute
)
