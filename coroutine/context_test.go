package coroutine

import (
	"bytes"
	"testing"
)

func TestStoreHysteresis(t *testing.T) {
	var c coroutine

	steps := []struct {
		extent  int
		realloc bool
		cap     int
	}{
		{extent: 100, realloc: true, cap: 100},
		{extent: 80, realloc: false, cap: 100},
		{extent: 50, realloc: false, cap: 100},
		{extent: 49, realloc: true, cap: 49},
		{extent: 49, realloc: false, cap: 49},
		{extent: 200, realloc: true, cap: 200},
	}

	for i, step := range steps {
		extent := bytes.Repeat([]byte{byte(i + 1)}, step.extent)
		if got := c.store(extent); got != step.realloc {
			t.Errorf("step %d: realloc = %v, want %v", i, got, step.realloc)
		}
		if cap(c.stack) != step.cap {
			t.Errorf("step %d: cap = %d, want %d", i, cap(c.stack), step.cap)
		}
		if cap(c.stack) < step.extent {
			t.Errorf("step %d: capacity %d below extent %d", i, cap(c.stack), step.extent)
		}
		if !bytes.Equal(c.stack, extent) {
			t.Errorf("step %d: snapshot does not match extent", i)
		}
	}
}
