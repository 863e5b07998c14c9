// Package history persists measurements locally, before and independently of
// any upload.
package history

import (
	"errors"
	"sort"

	"github.com/chaz8081/scale-sync/internal/domain"
)

// ErrNotFound is returned by MarkSynced for an unknown measurement.
var ErrNotFound = errors.New("history: measurement not found")

// sortNewestFirst orders by timestamp, newest first, with the ID string as
// tie-break so every store lists equal timestamps the same way.
func sortNewestFirst(list []domain.Measurement) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.After(list[j].Timestamp)
		}
		return list[i].ID.String() > list[j].ID.String()
	})
}
