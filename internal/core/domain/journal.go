package domain

import "time"

// JournalEntry is one append-only quantity delta for a key.
type JournalEntry struct {
	Sequence       int64
	Key            InventoryKey
	OnHandDelta    int
	AllocatedDelta int
	ReservedDelta  int
	CommandName    string
	Applied        bool
	CreatedAt      time.Time
}

// IsEmpty reports whether the entry would change nothing.
func (e JournalEntry) IsEmpty() bool {
	return e.OnHandDelta == 0 && e.AllocatedDelta == 0 && e.ReservedDelta == 0
}

// JournalRollup is the aggregate of a set of journal entries for one key.
type JournalRollup struct {
	Key            InventoryKey
	OnHandDelta    int
	AllocatedDelta int
	ReservedDelta  int
	Entries        int
}

// SumJournal folds entries into a rollup. Order does not matter.
func SumJournal(key InventoryKey, entries []JournalEntry) JournalRollup {
	rollup := JournalRollup{Key: key}
	for _, e := range entries {
		rollup.Add(e)
	}
	return rollup
}

func (r *JournalRollup) Add(e JournalEntry) {
	r.OnHandDelta += e.OnHandDelta
	r.AllocatedDelta += e.AllocatedDelta
	r.ReservedDelta += e.ReservedDelta
	r.Entries++
}

func (r JournalRollup) IsEmpty() bool {
	return r.OnHandDelta == 0 && r.AllocatedDelta == 0 && r.ReservedDelta == 0
}

// ApplyTo returns record with the rollup deltas added.
func (r JournalRollup) ApplyTo(record InventoryRecord) InventoryRecord {
	after := record.Clone()
	after.QuantityOnHand += r.OnHandDelta
	after.AllocatedQuantity += r.AllocatedDelta
	after.ReservedQuantity += r.ReservedDelta
	return after
}

// DeltaBetween builds the journal delta that turns before into after.
func DeltaBetween(before, after InventoryRecord, commandName string) JournalEntry {
	return JournalEntry{
		Key:            after.Key,
		OnHandDelta:    after.QuantityOnHand - before.QuantityOnHand,
		AllocatedDelta: after.AllocatedQuantity - before.AllocatedQuantity,
		ReservedDelta:  after.ReservedQuantity - before.ReservedQuantity,
		CommandName:    commandName,
	}
}
