package router

import (
	"context"

	"github.com/HKUDS/secretary-go/pkg/resolver"
	"github.com/HKUDS/secretary-go/pkg/store"
)

// DuplicateDetector looks for an existing schedule equivalent to a resolved
// request. It only reads the store.
type DuplicateDetector struct {
	store Store
}

// NewDuplicateDetector creates a detector over st.
func NewDuplicateDetector(st Store) *DuplicateDetector {
	return &DuplicateDetector{store: st}
}

// Exists reports whether the user already has a schedule at the resolved
// on-time trigger whose description contains description, ignoring case.
// Time and days must match exactly; the subject match is fuzzy.
func (d *DuplicateDetector) Exists(ctx context.Context, userID int64, description string, res resolver.Resolution) (bool, error) {
	on := res.OnTime
	if on.Kind == resolver.Weekly {
		rows, err := d.store.RecurringAt(ctx, userID, on.Days, on.Clock())
		if err != nil {
			return false, err
		}
		for _, row := range rows {
			if store.ContainsFold(row.Description, description) {
				return true, nil
			}
		}
		return false, nil
	}

	tasks, err := d.store.TasksAt(ctx, userID, on.At)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Status == store.StatusPending && store.ContainsFold(t.Description, description) {
			return true, nil
		}
	}
	return false, nil
}
