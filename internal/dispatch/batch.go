package dispatch

import (
	"sort"

	"github.com/banshee-data/serialscope/internal/channel"
)

// Batch is the sink notification for one dispatch cycle: every value the
// frame contributed, tagged with the cycle's sample index.
type Batch struct {
	Index   uint64                 `json:"index"`
	Values  map[channel.ID]float64 `json:"values"`
	Evicted int                    `json:"evicted,omitempty"`
}

// Value returns the sample recorded for id in this batch.
func (b Batch) Value(id channel.ID) (float64, bool) {
	v, ok := b.Values[id]
	return v, ok
}

// IDs returns the channels present in the batch in ascending order.
func (b Batch) IDs() []channel.ID {
	ids := make([]channel.ID, 0, len(b.Values))
	for id := range b.Values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
