package dpmm

import (
	"testing"
)

func TestArena_AllocAssignsDenseIDs(t *testing.T) {
	a := newArena()
	for want := 0; want < 4; want++ {
		c := a.alloc()
		if c.id != want {
			t.Fatalf("alloc id = %d, expected %d", c.id, want)
		}
	}
	if a.count() != 4 {
		t.Errorf("count = %d, expected 4", a.count())
	}
}

func TestArena_RetiredIDNotReusedBeforeFlush(t *testing.T) {
	a := newArena()
	a.alloc() // 0
	a.alloc() // 1
	a.alloc() // 2

	a.retire(1)
	if c := a.alloc(); c.id == 1 {
		t.Fatal("id 1 reused before flushRetired")
	}

	a.flushRetired()
	if c := a.alloc(); c.id != 1 {
		t.Errorf("alloc after flush = %d, expected recycled id 1", c.id)
	}
}

func TestArena_ActiveIDsSkipRetired(t *testing.T) {
	a := newArena()
	for i := 0; i < 5; i++ {
		a.alloc()
	}
	a.retire(0)
	a.retire(3)
	a.flushRetired()

	ids := a.activeIDs()
	want := []int{1, 2, 4}
	if len(ids) != len(want) {
		t.Fatalf("activeIDs = %v, expected %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("activeIDs = %v, expected %v", ids, want)
		}
	}
	if a.get(0) != nil || a.get(3) != nil {
		t.Error("retired slots should be nil")
	}
	if a.size() != 5 {
		t.Errorf("size = %d, expected 5 (slots are never shrunk)", a.size())
	}
}
