package loader

import "testing"

func TestQueuePerSizeFlushesOnSize(t *testing.T) {
	q := NewQueuePerSize(1000, 10)
	full := q.Add([]QueueItem{{Key: "a", Size: 4}, {Key: "b", Size: 4}})
	if full {
		t.Fatal("expected queue not yet full at size 8/10")
	}
	full = q.Add([]QueueItem{{Key: "c", Size: 4}})
	if !full {
		t.Fatal("expected queue full once size crosses 10")
	}
	items := q.Pop()
	if len(items) != 3 {
		t.Fatalf("Pop returned %d items, want 3", len(items))
	}
	if q.Len() != 0 {
		t.Fatalf("Len after Pop = %d, want 0", q.Len())
	}
}

func TestQueuePerSizeFlushesOnCount(t *testing.T) {
	q := NewQueuePerSize(2, 1<<30)
	if q.Add([]QueueItem{{Key: "a", Size: 1}}) {
		t.Fatal("expected not full at count 1/2")
	}
	if !q.Add([]QueueItem{{Key: "b", Size: 1}}) {
		t.Fatal("expected full at count 2/2")
	}
}

func TestQueuePerSizeDeduplicatesByKey(t *testing.T) {
	q := NewQueuePerSize(1000, 1<<30)
	q.Add([]QueueItem{{Key: "a", Size: 10}})
	q.Add([]QueueItem{{Key: "a", Size: 10}})
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (dedup by key)", q.Len())
	}
}

func TestQueuePerNbElementsFlushesOnCount(t *testing.T) {
	q := NewQueuePerNbElements(2)
	if q.Add([]QueueItem{{Key: "a"}}) {
		t.Fatal("expected not full at count 1/2")
	}
	if !q.Add([]QueueItem{{Key: "b"}}) {
		t.Fatal("expected full at count 2/2")
	}
	items := q.Pop()
	if len(items) != 2 {
		t.Fatalf("Pop returned %d items, want 2", len(items))
	}
}

func TestQueuePerNbElementsDeduplicatesByKey(t *testing.T) {
	q := NewQueuePerNbElements(1000)
	q.Add([]QueueItem{{Key: "x"}, {Key: "x"}, {Key: "y"}})
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (dedup by key)", q.Len())
	}
}
