// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package handle

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/fswatch/internal/testutil"
)

func TestInsertGetRemove(t *testing.T) {
	tbl := NewTable[string]()
	a := tbl.Insert("a")
	b := tbl.Insert("b")
	if a == 0 || b == 0 || a == b {
		t.Fatalf("bad ids %d %d", a, b)
	}
	v, err := tbl.Get(a)
	testutil.FatalIfErr(t, err)
	testutil.ExpectNoDiff(t, "a", v)
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}

	v, err = tbl.Remove(a)
	testutil.FatalIfErr(t, err)
	testutil.ExpectNoDiff(t, "a", v)
	if _, err := tbl.Get(a); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Get after remove = %v, want ErrUnknownHandle", err)
	}
	if _, err := tbl.Remove(a); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("second Remove = %v, want ErrUnknownHandle", err)
	}
	testutil.ExpectNoDiff(t, map[ID]string{b: "b"}, tbl.Items())
}

func TestIDsNotReused(t *testing.T) {
	tbl := NewTable[int]()
	a := tbl.Insert(1)
	_, err := tbl.Remove(a)
	testutil.FatalIfErr(t, err)
	if b := tbl.Insert(2); b == a {
		t.Errorf("id %d reused immediately", a)
	}
}

func TestWraparoundSkipsZeroAndLive(t *testing.T) {
	tbl := NewTable[int]()
	live := tbl.Insert(1) // id 1
	tbl.next.Store(math.MaxUint32 - 1)
	if id := tbl.Insert(2); id != math.MaxUint32 {
		t.Errorf("id = %d, want %d", id, uint32(math.MaxUint32))
	}
	// Wraps to 0, which is skipped, then 1, which is live.
	if id := tbl.Insert(3); id != live+1 {
		t.Errorf("id after wraparound = %d, want %d", id, live+1)
	}
}

func TestConcurrentInsert(t *testing.T) {
	tbl := NewTable[int]()
	const n = 100
	ids := make(chan ID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids <- tbl.Insert(i)
		}(i)
	}
	wg.Wait()
	close(ids)
	seen := make(map[ID]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if tbl.Len() != n {
		t.Errorf("Len() = %d, want %d", tbl.Len(), n)
	}
}
