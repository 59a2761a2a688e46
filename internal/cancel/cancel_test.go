package cancel

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCancelIsIdempotent(t *testing.T) {
	src := NewSource()
	tok := src.Token()
	if tok.Requested() {
		t.Fatal("fresh token should not be requested")
	}
	if err := tok.ThrowIfRequested(); err != nil {
		t.Fatalf("ThrowIfRequested() = %v, want nil", err)
	}

	first := errors.New("superseded")
	src.Cancel(first)
	src.Cancel(errors.New("second"))
	src.Cancel(nil)

	if !tok.Requested() {
		t.Fatal("token should be requested after cancel")
	}
	err := tok.ThrowIfRequested()
	var cerr *CancelledError
	if !errors.As(err, &cerr) {
		t.Fatalf("ThrowIfRequested() = %T, want *CancelledError", err)
	}
	if cerr.Reason != first {
		t.Fatalf("Reason = %v, want %v", cerr.Reason, first)
	}
	if !IsCancelled(err) || !errors.Is(err, first) {
		t.Fatalf("error chain mismatch: %v", err)
	}
	if !tok.Requested() {
		t.Fatal("requested must stay true")
	}
}

func TestDoneClosesForSelect(t *testing.T) {
	src := NewSource()
	tok := src.Token()
	go func() {
		time.Sleep(10 * time.Millisecond)
		src.Cancel(nil)
	}()
	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() was not closed")
	}
	if tok.Cause().Error() != "cancelled" {
		t.Fatalf("Cause() = %q, want cancelled", tok.Cause().Error())
	}
}

func TestConcurrentCancel(t *testing.T) {
	src := NewSource()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.Cancel(nil)
		}()
	}
	wg.Wait()
	if !src.Token().Requested() {
		t.Fatal("expected cancellation")
	}
}

func TestZeroTokenNeverCancelled(t *testing.T) {
	var tok Token
	if tok.Requested() || tok.Cause() != nil || tok.ThrowIfRequested() != nil {
		t.Fatal("zero token must never report cancellation")
	}
	if tok.Done() != nil {
		t.Fatal("zero token Done() should be nil")
	}
}
