package services

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := NewKeyedMutex()
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "+1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxActive)
	}
	if k.Len() != 0 {
		t.Fatalf("lock table should be empty, has %d", k.Len())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "+1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := k.Lock(ctx, "+2")
	if err != nil {
		t.Fatalf("a different key must not block: %v", err)
	}
	unlockB()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	k := NewKeyedMutex()
	unlock, _ := k.Lock(context.Background(), "+1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "+1"); err == nil {
		t.Fatalf("expected context error while key is held")
	}
	if _, ok := k.TryLock("+1"); ok {
		t.Fatalf("TryLock must fail while key is held")
	}

	unlock()
	if k.Len() != 0 {
		t.Fatalf("lock table should be empty")
	}
}

func TestDedupCache(t *testing.T) {
	d := NewDedupCache(2, time.Hour)
	d.Mark("a")
	if !d.Seen("a") || d.Seen("b") {
		t.Fatalf("unexpected membership")
	}
	d.Mark("b")
	d.Mark("c")
	if d.Seen("a") {
		t.Fatalf("oldest id should be evicted at capacity")
	}
	if d.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", d.Len())
	}
}
