package resource

// releaseEntry is one deferred destruction: the destroy callback may only
// run once the GPU has completed the frame the handle was released on.
type releaseEntry struct {
	retireFrame uint64
	destroy     func()
}

// releaseQueue defers handle destruction until no in-flight frame can still
// reference the handle. Entries are ordered by retire frame because releases
// happen with a monotonically increasing frame counter.
type releaseQueue struct {
	entries []releaseEntry
}

// push enqueues a destruction to run once the GPU completes retireFrame.
func (q *releaseQueue) push(retireFrame uint64, destroy func()) {
	q.entries = append(q.entries, releaseEntry{retireFrame: retireFrame, destroy: destroy})
}

// collect destroys every entry whose retire frame the GPU has completed and
// returns how many were reclaimed.
func (q *releaseQueue) collect(completedFrame uint64) int {
	n := 0
	for n < len(q.entries) && q.entries[n].retireFrame <= completedFrame {
		q.entries[n].destroy()
		q.entries[n].destroy = nil
		n++
	}
	if n > 0 {
		q.entries = append(q.entries[:0], q.entries[n:]...)
	}
	return n
}

// drain destroys every pending entry regardless of frame; used at teardown
// after all queues have gone idle.
func (q *releaseQueue) drain() int {
	n := len(q.entries)
	for i := range q.entries {
		q.entries[i].destroy()
		q.entries[i].destroy = nil
	}
	q.entries = q.entries[:0]
	return n
}

// pending returns the number of queued destructions.
func (q *releaseQueue) pending() int {
	return len(q.entries)
}
