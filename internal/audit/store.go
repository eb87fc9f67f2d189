package audit

import "context"

// Store persists audit entries. Implementations assign the sequence
// number on append and never mutate or reorder stored entries.
type Store interface {
	// Append stores the entry and returns it with its sequence assigned.
	Append(ctx context.Context, entry Entry) (Entry, error)
	// ListByRecord returns entries for a record in append order.
	ListByRecord(ctx context.Context, recordID uint64) ([]Entry, error)
	// Length reports how many entries the log holds.
	Length(ctx context.Context) (uint64, error)
}
