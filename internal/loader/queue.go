package loader

// QueueItem is one batched unit: Key deduplicates repeated pushes of the
// same content-addressed object across revisions (the object store is
// idempotent, but there is no reason to re-submit a child directory three
// commits in a row just because Collect walks the whole tree each time),
// and Size is only consulted by QueuePerSize.
type QueueItem struct {
	Key   string
	Size  int64
	Value interface{}
}

// QueuePerSize accumulates elements until either the cumulative byte size
// or the element count crosses a configured threshold, whichever comes
// first (queue.py's QueuePerSize). Used to batch content blobs before
// flushing to the storage collaborator.
type QueuePerSize struct {
	maxCount int
	maxSize  int64

	keys  map[string]struct{}
	items []QueueItem
	size  int64
}

// NewQueuePerSize returns an empty queue.
func NewQueuePerSize(maxCount int, maxSize int64) *QueuePerSize {
	q := &QueuePerSize{maxCount: maxCount, maxSize: maxSize}
	q.Reset()
	return q
}

// Add appends items not already queued (by Key) and reports whether the
// queue has crossed its count or size threshold and should be flushed.
func (q *QueuePerSize) Add(items []QueueItem) bool {
	for _, it := range items {
		if _, seen := q.keys[it.Key]; seen {
			continue
		}
		q.keys[it.Key] = struct{}{}
		q.items = append(q.items, it)
		q.size += it.Size
	}
	return q.size >= q.maxSize || len(q.items) >= q.maxCount
}

// Len reports the number of distinct items currently queued.
func (q *QueuePerSize) Len() int { return len(q.items) }

// Pop returns the queued items and resets the queue.
func (q *QueuePerSize) Pop() []QueueItem {
	items := q.items
	q.Reset()
	return items
}

// Reset empties the queue.
func (q *QueuePerSize) Reset() {
	q.keys = map[string]struct{}{}
	q.items = nil
	q.size = 0
}

// QueuePerNbElements accumulates elements until the element count crosses
// a configured threshold (queue.py's QueuePerNbElements). Used to batch
// directories and revisions, which have no natural "size" to budget on.
type QueuePerNbElements struct {
	maxCount int
	keys     map[string]struct{}
	items    []QueueItem
}

// NewQueuePerNbElements returns an empty queue.
func NewQueuePerNbElements(maxCount int) *QueuePerNbElements {
	q := &QueuePerNbElements{maxCount: maxCount}
	q.Reset()
	return q
}

// Add appends items not already queued (by Key) and reports whether the
// queue has crossed its count threshold and should be flushed.
func (q *QueuePerNbElements) Add(items []QueueItem) bool {
	for _, it := range items {
		if _, seen := q.keys[it.Key]; seen {
			continue
		}
		q.keys[it.Key] = struct{}{}
		q.items = append(q.items, it)
	}
	return len(q.items) >= q.maxCount
}

// Len reports the number of distinct items currently queued.
func (q *QueuePerNbElements) Len() int { return len(q.items) }

// Pop returns the queued items and resets the queue.
func (q *QueuePerNbElements) Pop() []QueueItem {
	items := q.items
	q.Reset()
	return items
}

// Reset empties the queue.
func (q *QueuePerNbElements) Reset() {
	q.keys = map[string]struct{}{}
	q.items = nil
}
