package domain

import "time"

type RollupState string

const (
	RollupStateClaimed           RollupState = "CLAIMED"
	RollupStateRunning           RollupState = "RUNNING"
	RollupStateDone              RollupState = "DONE"
	RollupStateAbortedContention RollupState = "ABORTED_CONTENTION"
	RollupStateFailed            RollupState = "FAILED"
)

// RollupTask tracks one worker's attempt to fold the pending journal of a key.
type RollupTask struct {
	Key       InventoryKey
	ClaimedBy string
	StartedAt time.Time
	State     RollupState
	Applied   JournalRollup
}
