package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })

	c.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2], got %v", order)
	}
	if !c.Now().Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("expected now = epoch+2s, got %v", c.Now())
	}
	if c.Pending() != 1 {
		t.Errorf("expected 1 pending timer, got %d", c.Pending())
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Fatal("expected Stop to report true for pending timer")
	}
	if tm.Stop() {
		t.Error("expected second Stop to report false")
	}
	c.Advance(5 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_RearmedTimerFiresWithinWindow(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	if count != 3 {
		t.Fatalf("expected 3 ticks, got %d", count)
	}
}

func TestFake_CallbackSeesDeadlineAsNow(t *testing.T) {
	c := NewFake(epoch)
	var seen time.Time
	c.AfterFunc(500*time.Millisecond, func() { seen = c.Now() })

	c.Advance(time.Second)
	if !seen.Equal(epoch.Add(500 * time.Millisecond)) {
		t.Errorf("expected callback at epoch+500ms, got %v", seen)
	}
}
