package model

// SessionState represents the lifecycle of a synchronization session
type SessionState string

const (
	// SessionUninitialized means no credential has been supplied yet.
	SessionUninitialized SessionState = "uninitialized"

	// SessionSyncing means the first page fetch is in progress.
	SessionSyncing SessionState = "syncing"

	// SessionReady means the first fetch completed and the feed is live.
	SessionReady SessionState = "ready"
)
