package storage_test

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/memcore/storage"
)

func TestMemoryStorage(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	if err := s.Put("key1", []byte("value1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	value, exists := s.Get("key1")
	if !exists {
		t.Fatal("Expected key to exist")
	}
	if string(value) != "value1" {
		t.Errorf("Get() = %s, want value1", string(value))
	}

	if _, exists := s.Get("nonexistent"); exists {
		t.Fatal("Expected key to not exist")
	}

	if !s.Delete("key1") {
		t.Error("Delete() = false, want true")
	}
	if s.Delete("key1") {
		t.Error("second Delete() = true, want false")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestMemoryStorageGetReturnsCopy(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	buf := []byte("abc")
	if err := s.Put("k", buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 'x'

	got, _ := s.Get("k")
	got[1] = 'y'

	again, _ := s.Get("k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through caller slices: %q", again)
	}
}

// deadValue treats values starting with 'x' as expired
func deadValue(value []byte, _ time.Time) bool {
	return len(value) > 0 && value[0] == 'x'
}

func TestMemoryStorageBackgroundCleanup(t *testing.T) {
	s := storage.NewMemory(
		storage.WithShardCount(2),
		storage.WithExpiry(deadValue),
		storage.WithCleanupConfig(storage.CleanupConfig{
			Interval:         10 * time.Millisecond,
			SampleSize:       8,
			MaxRounds:        4,
			BatchSize:        3,
			ExpiredThreshold: 0.25,
		}),
	)
	defer s.Close()

	for i := 0; i < 50; i++ {
		if err := s.Put(fmt.Sprintf("dead%d", i), []byte("xdata")); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		if err := s.Put(fmt.Sprintf("live%d", i), []byte("data")); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Len() != 5 {
		if time.Now().After(deadline) {
			t.Fatalf("Len() = %d after cleanup, want 5", s.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := s.Reclaimed(); got != 50 {
		t.Errorf("Reclaimed() = %d, want 50", got)
	}
	for i := 0; i < 5; i++ {
		if _, ok := s.Get(fmt.Sprintf("live%d", i)); !ok {
			t.Errorf("live%d removed by cleanup", i)
		}
	}
	if want := int64(5 * (len("live0") + len("data") + 48)); s.MemoryUsage() != want {
		t.Errorf("MemoryUsage() = %d, want %d", s.MemoryUsage(), want)
	}
}

func TestMemoryStorageReclaimOnMemoryLimit(t *testing.T) {
	// 10 entries of 2-byte keys and 4-byte values fill the limit exactly
	s := storage.NewMemory(
		storage.WithMemoryLimit(10*(2+4+48)),
		storage.WithExpiry(deadValue),
		storage.WithCleanupConfig(storage.CleanupConfig{
			Interval:   time.Hour,
			SampleSize: 1,
			MaxRounds:  1,
			BatchSize:  1,
		}),
	)
	defer s.Close()

	for i := 0; i < 10; i++ {
		if err := s.Put("k"+strconv.Itoa(i), []byte("xold")); err != nil {
			t.Fatalf("Put(k%d) error = %v", i, err)
		}
	}

	if err := s.Put("fresh", []byte("live")); err != nil {
		t.Fatalf("Put() over dead values error = %v", err)
	}
	if s.Len() != 1 || s.Reclaimed() != 10 {
		t.Errorf("Len() = %d, Reclaimed() = %d; want 1, 10", s.Len(), s.Reclaimed())
	}

	// Update reclaims too
	for i := 0; i < 8; i++ {
		if err := s.Put("d"+strconv.Itoa(i), []byte("xold")); err != nil {
			t.Fatal(err)
		}
	}
	_, err := s.Update("big", func([]byte, bool) ([]byte, storage.Action) {
		return []byte("live-and-long"), storage.Store
	})
	if err != nil {
		t.Fatalf("Update() over dead values error = %v", err)
	}
	if s.Reclaimed() != 18 {
		t.Errorf("Reclaimed() = %d, want 18", s.Reclaimed())
	}
}

func TestMemoryStorageReclaimWithoutExpiry(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	s.Put("k", []byte("xdata"))
	if n := s.Reclaim(); n != 0 {
		t.Errorf("Reclaim() = %d without an expiry function", n)
	}
}

func TestMemoryStorageCloseStopsCleanup(t *testing.T) {
	s := storage.NewMemory(storage.WithExpiry(deadValue))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestMemoryStorageUpdate(t *testing.T) {
	s := storage.NewMemory()
	defer s.Close()

	tests := []struct {
		name    string
		seed    string
		action  storage.Action
		next    string
		changed bool
		want    string
		exists  bool
	}{
		{name: "store new", action: storage.Store, next: "a", changed: true, want: "a", exists: true},
		{name: "keep existing", seed: "b", action: storage.Keep, changed: false, want: "b", exists: true},
		{name: "remove existing", seed: "c", action: storage.Remove, changed: true, exists: false},
		{name: "remove missing", action: storage.Remove, changed: false, exists: false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "key" + strconv.Itoa(i)
			if tt.seed != "" {
				if err := s.Put(key, []byte(tt.seed)); err != nil {
					t.Fatal(err)
				}
			}

			changed, err := s.Update(key, func(current []byte, found bool) ([]byte, storage.Action) {
				return []byte(tt.next), tt.action
			})
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if changed != tt.changed {
				t.Errorf("Update() changed = %v, want %v", changed, tt.changed)
			}

			v, exists := s.Get(key)
			if exists != tt.exists {
				t.Fatalf("exists = %v, want %v", exists, tt.exists)
			}
			if exists && string(v) != tt.want {
				t.Errorf("value = %q, want %q", v, tt.want)
			}
		})
	}
}

func TestMemoryStorageConcurrentUpdate(t *testing.T) {
	s := storage.NewMemory(storage.WithShardCount(4))
	defer s.Close()

	const workers = 16
	const increments = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				_, err := s.Update("counter", func(current []byte, found bool) ([]byte, storage.Action) {
					n := 0
					if found {
						n, _ = strconv.Atoi(string(current))
					}
					return []byte(strconv.Itoa(n + 1)), storage.Store
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, _ := s.Get("counter")
	if string(v) != strconv.Itoa(workers*increments) {
		t.Errorf("counter = %s, want %d", v, workers*increments)
	}
}

func TestMemoryStorageMemoryLimit(t *testing.T) {
	s := storage.NewMemory(storage.WithMemoryLimit(256))
	defer s.Close()

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = s.Put(fmt.Sprintf("key%d", i), make([]byte, 32))
	}
	if !errors.Is(err, storage.ErrMemoryLimit) {
		t.Fatalf("expected ErrMemoryLimit, got %v", err)
	}
	if s.MemoryUsage() > 256 {
		t.Errorf("MemoryUsage() = %d exceeds limit", s.MemoryUsage())
	}

	// Freed memory can be reused
	s.Delete("key0")
	if err := s.Put("again", make([]byte, 8)); err != nil {
		t.Errorf("Put() after Delete() error = %v", err)
	}
}

func TestMemoryStorageClosed(t *testing.T) {
	s := storage.NewMemory()
	s.Close()

	if err := s.Put("k", []byte("v")); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Put() after Close() = %v, want ErrClosed", err)
	}
}
