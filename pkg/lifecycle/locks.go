package lifecycle

import "sync"

// stripedLocks serializes operations per subscriber id. Renewal is the one
// non-idempotent step in the engine, so two concurrent Syncs for the same id
// must never interleave. A fixed stripe count bounds memory; collisions only
// cost unnecessary serialization, never correctness.
type stripedLocks struct {
	stripes [64]sync.Mutex
}

func (l *stripedLocks) lock(id int64) func() {
	m := &l.stripes[uint64(id)%uint64(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
