package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_After(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	ch := f.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	f.Advance(30 * time.Second)
	assert.Len(t, ch, 0)

	f.Advance(30 * time.Second)
	fired := <-ch
	assert.Equal(t, start.Add(time.Minute), fired)
	assert.Equal(t, start.Add(time.Minute), f.Now())
	assert.Zero(t, f.Waiters())
}

func TestFake_AfterNonPositiveFiresImmediately(t *testing.T) {
	f := NewFake(time.Now())
	select {
	case <-f.After(0):
	default:
		t.Fatal("expected immediate fire")
	}
}

func TestFake_Ticker(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(10 * time.Second)

	f.Advance(10 * time.Second)
	<-tk.C()

	// a long jump delivers a single buffered tick
	f.Advance(time.Minute)
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("ticks should coalesce")
	default:
	}

	tk.Stop()
	assert.Zero(t, f.Waiters())
	f.Advance(time.Minute)
	assert.Len(t, tk.C(), 0)
}

func TestReal(t *testing.T) {
	var c Clock = Real{}
	before := time.Now()
	assert.False(t, c.Now().Before(before))
	tk := c.NewTicker(time.Millisecond)
	<-tk.C()
	tk.Stop()
}
