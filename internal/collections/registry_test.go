package collections

import "testing"

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry[int32, string]()
	r.Put(1, "a")
	r.Put(2, "b")

	if v, ok := r.Get(1); !ok || v != "a" {
		t.Fatalf("Get(1) = %q, %v", v, ok)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if !r.Remove(1) {
		t.Fatal("expected Remove(1) to report true")
	}
	if _, ok := r.Get(1); ok {
		t.Fatal("expected 1 to be gone")
	}
	if r.Remove(1) {
		t.Fatal("expected second Remove(1) to report false")
	}
}

func TestRegistryValues(t *testing.T) {
	r := NewRegistry[int32, int]()
	r.Put(1, 10)
	r.Put(2, 20)
	r.Put(3, 30)

	sum := 0
	for _, v := range r.Values() {
		sum += v
	}
	if sum != 60 {
		t.Fatalf("sum of values = %d, want 60", sum)
	}
}

func TestTwoLevelPutGetRemove(t *testing.T) {
	tl := NewTwoLevel[int32, int32, string]()
	tl.Put(100, 1, "session1-stream100")
	tl.Put(100, 2, "session2-stream100")
	tl.Put(200, 1, "session1-stream200")

	if v, ok := tl.Get(100, 1); !ok || v != "session1-stream100" {
		t.Fatalf("Get(100,1) = %q, %v", v, ok)
	}

	inner := tl.Inner(100)
	if inner == nil || inner.Len() != 2 {
		t.Fatalf("Inner(100) = %v", inner)
	}

	if !tl.Remove(100, 1) {
		t.Fatal("expected Remove(100,1) to report true")
	}
	if _, ok := tl.Get(100, 1); ok {
		t.Fatal("expected (100,1) to be gone")
	}
	if tl.Inner(100) == nil || tl.Inner(100).Len() != 1 {
		t.Fatal("expected (100,2) to remain")
	}

	tl.Remove(100, 2)
	if tl.Inner(100) != nil {
		t.Fatal("expected outer 100 to be pruned once its last inner entry is removed")
	}
}

func TestTwoLevelOuterKeys(t *testing.T) {
	tl := NewTwoLevel[int32, int32, int]()
	tl.Put(1, 1, 1)
	tl.Put(2, 1, 1)

	keys := tl.OuterKeys()
	if len(keys) != 2 {
		t.Fatalf("OuterKeys() = %v, want 2 entries", keys)
	}
}
