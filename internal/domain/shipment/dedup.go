package shipment

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduper is the fast path in front of the aggregate's exact tracking-event
// check. Carriers replay webhooks aggressively; a bloom miss proves an event
// id is new without loading the shipment, while a hit falls through to the
// exact check (false positives are resolved there).
type Deduper struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewDeduper sizes the filter for the expected number of carrier events and
// target false-positive rate.
func NewDeduper(expectedEvents uint, fpRate float64) *Deduper {
	return &Deduper{
		filter: bloom.NewWithEstimates(expectedEvents, fpRate),
	}
}

// MaybeSeen reports whether externalID may have been observed before. False
// means definitely new.
func (d *Deduper) MaybeSeen(externalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter.TestString(externalID)
}

// Observe records an applied carrier event id.
func (d *Deduper) Observe(externalID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.AddString(externalID)
}
