package model

// SyncStatus is the externally visible state of the sync engine.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusError means the most recent delivery outcome was an abandonment.
	SyncStatusError SyncStatus = "error"
)
