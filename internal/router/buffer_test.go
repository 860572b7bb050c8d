package router

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_FIFO(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 100)

	for i := 0; i < 5; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}
	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	got := buf.DrainTo(0)
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d, want %d", i, v, i)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
}

func TestGrowableBuffer_GrowAt70Percent(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 100)

	for i := 0; i < 7; i++ {
		buf.Send(i)
	}

	stats := buf.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}
}

func TestGrowableBuffer_GrowPreservesWrappedOrder(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 100)

	// Move head forward so the next fill wraps.
	for i := 0; i < 5; i++ {
		buf.Send(-1)
	}
	buf.DrainTo(5)

	for i := 0; i < 12; i++ {
		buf.Send(i)
	}

	got := buf.DrainTo(0)
	if len(got) != 12 {
		t.Fatalf("drained %d items, want 12", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d, want %d", i, v, i)
		}
	}
}

func TestGrowableBuffer_DropsOldestAtMax(t *testing.T) {
	buf := NewGrowableBuffer[int](4, 8)

	for i := 0; i < 20; i++ {
		buf.Send(i)
	}

	stats := buf.Stats()
	if stats.Capacity != 8 {
		t.Errorf("Capacity = %d, want 8", stats.Capacity)
	}
	if stats.Dropped != 12 {
		t.Errorf("Dropped = %d, want 12", stats.Dropped)
	}

	got := buf.DrainTo(0)
	if len(got) != 8 || got[0] != 12 || got[7] != 19 {
		t.Errorf("DrainTo() = %v, want 12..19", got)
	}
	if s := buf.Stats(); s.TotalSent != 8 {
		t.Errorf("TotalSent = %d, want 8", s.TotalSent)
	}
}

func TestGrowableBuffer_DrainToLimit(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 10)
	for i := 0; i < 6; i++ {
		buf.Send(i)
	}

	if got := buf.DrainTo(4); len(got) != 4 {
		t.Errorf("DrainTo(4) returned %d items", len(got))
	}
	if buf.Len() != 2 {
		t.Errorf("Len() = %d, want 2", buf.Len())
	}
	if got := buf.DrainTo(0); len(got) != 2 || got[0] != 4 {
		t.Errorf("DrainTo(0) = %v, want [4 5]", got)
	}
	if got := buf.DrainTo(0); got != nil {
		t.Errorf("DrainTo on empty = %v, want nil", got)
	}
}

func TestGrowableBuffer_ReceiveBlocksUntilSend(t *testing.T) {
	buf := NewGrowableBuffer[string](4, 4)

	var wg sync.WaitGroup
	var got string
	var ok bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, ok = buf.Receive()
	}()

	time.Sleep(20 * time.Millisecond)
	buf.Send("hello")
	wg.Wait()

	if !ok || got != "hello" {
		t.Errorf("Receive() = %q, %v, want hello, true", got, ok)
	}
}

func TestGrowableBuffer_Close(t *testing.T) {
	buf := NewGrowableBuffer[int](4, 4)
	buf.Send(1)
	buf.Close()

	if buf.Send(2) {
		t.Error("Send after Close returned true")
	}

	if v, ok := buf.Receive(); !ok || v != 1 {
		t.Errorf("Receive() = %d, %v, want 1, true", v, ok)
	}
	if _, ok := buf.Receive(); ok {
		t.Error("Receive on closed empty buffer returned ok")
	}
}
