// Package warn provides a small sync.Map-backed "only tell me once"
// dedup primitive: a package-level sync.Map plus LoadOrStore, generalized
// into an instantiable Deduper since the tracking core needs independent
// dedup scopes (one per camera-pair conflict, one per high-latency window)
// rather than one global process-wide set.
package warn

import "sync"

// Deduper tracks which keys have already fired.
type Deduper struct {
	seen sync.Map
}

// NewDeduper creates an empty deduper.
func NewDeduper() *Deduper { return &Deduper{} }

// Once reports whether this is the first time key has been seen.
func (d *Deduper) Once(key string) bool {
	_, loaded := d.seen.LoadOrStore(key, true)
	return !loaded
}

// Reset clears every seen key, used by Core.Reset.
func (d *Deduper) Reset() {
	d.seen.Range(func(k, _ any) bool {
		d.seen.Delete(k)
		return true
	})
}
