package storage

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/cespare/xxhash/v2"
)

// entryOverhead approximates the per-key bookkeeping cost of a map entry.
const entryOverhead = 48

// shard represents a single shard of data with its own lock
type shard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// MemoryStorage implements an in-memory storage engine
type MemoryStorage struct {
	shards    []shard
	shardMask uint64

	memoryLimit int64
	memoryUsage atomix.Int64
	keyCount    atomix.Int64
	closed      atomix.Bool

	// Expiry support; cleanup runs only when expired is set
	expired       ExpiredFunc
	now           func() time.Time
	cleanupConfig CleanupConfig
	cleanupStop   chan struct{}
	cleanupDone   chan struct{}
	reclaimed     atomix.Uint64
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithShardCount sets the number of shards for the storage
// The number is automatically rounded up to the next power of 2 for optimal performance
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStorage) {
		if count > 0 {
			n := nextPowerOf2(count)
			s.shards = make([]shard, n)
			s.shardMask = uint64(n - 1)
		}
	}
}

// WithMemoryLimit rejects writes that would grow the storage past bytes.
// Zero disables the limit.
func WithMemoryLimit(bytes int64) MemoryOption {
	return func(s *MemoryStorage) {
		if bytes >= 0 {
			s.memoryLimit = bytes
		}
	}
}

// WithExpiry enables removal of dead values: a background goroutine samples
// every shard each cleanup interval, and a write that hits the memory limit
// reclaims dead values before failing.
func WithExpiry(fn ExpiredFunc) MemoryOption {
	return func(s *MemoryStorage) {
		s.expired = fn
	}
}

// WithCleanupConfig tunes the background cleanup
func WithCleanupConfig(config CleanupConfig) MemoryOption {
	return func(s *MemoryStorage) {
		if config.Interval > 0 && config.SampleSize > 0 && config.MaxRounds > 0 && config.BatchSize > 0 {
			s.cleanupConfig = config
		}
	}
}

// WithClock sets the time source handed to the ExpiredFunc
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemory creates a new in-memory storage instance with default number of shards (64)
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		shards:        make([]shard, 64),
		shardMask:     63,
		now:           time.Now,
		cleanupConfig: CleanupConfigDefault,
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := range s.shards {
		s.shards[i].data = make(map[string][]byte)
	}

	if s.expired != nil {
		s.cleanupStop = make(chan struct{})
		s.cleanupDone = make(chan struct{})
		go s.cleanupExpiredKeys()
	}

	return s
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// shardFor returns the shard owning key
func (s *MemoryStorage) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&s.shardMask]
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key)+len(value)) + entryOverhead
}

// reserve accounts for delta bytes, failing if the limit would be crossed.
func (s *MemoryStorage) reserve(delta int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if delta <= 0 || s.memoryLimit == 0 {
		s.memoryUsage.Add(delta)
		return nil
	}
	for {
		cur := s.memoryUsage.Load()
		if cur+delta > s.memoryLimit {
			return ErrMemoryLimit
		}
		if s.memoryUsage.CompareAndSwap(cur, cur+delta) {
			return nil
		}
	}
}

// store writes value under key; the shard lock must be held.
func (s *MemoryStorage) store(sh *shard, key string, value []byte, old []byte, found bool) error {
	delta := entrySize(key, value)
	if found {
		delta -= entrySize(key, old)
	}
	if err := s.reserve(delta); err != nil {
		return err
	}
	if !found {
		s.keyCount.Add(1)
	}
	sh.data[key] = append([]byte(nil), value...)
	return nil
}

// remove deletes key; the shard lock must be held.
func (s *MemoryStorage) remove(sh *shard, key string, old []byte) {
	delete(sh.data, key)
	s.keyCount.Add(-1)
	s.memoryUsage.Add(-entrySize(key, old))
}

// Put stores value under key
func (s *MemoryStorage) Put(key string, value []byte) error {
	err := s.put(key, value)
	if err == ErrMemoryLimit && s.Reclaim() > 0 {
		err = s.put(key, value)
	}
	return err
}

func (s *MemoryStorage) put(key string, value []byte) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	old, found := sh.data[key]
	return s.store(sh, key, value, old, found)
}

// Get retrieves a value by key
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	value, found := sh.data[key]
	if !found {
		return nil, false
	}
	return append([]byte(nil), value...), true
}

// Delete removes a key
func (s *MemoryStorage) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	old, found := sh.data[key]
	if found {
		s.remove(sh, key, old)
	}
	return found
}

// Update applies fn to the current value of key under the shard lock
func (s *MemoryStorage) Update(key string, fn UpdateFunc) (bool, error) {
	changed, err := s.update(key, fn)
	if err == ErrMemoryLimit && s.Reclaim() > 0 {
		changed, err = s.update(key, fn)
	}
	return changed, err
}

func (s *MemoryStorage) update(key string, fn UpdateFunc) (bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	old, found := sh.data[key]
	next, action := fn(old, found)
	switch action {
	case Store:
		if err := s.store(sh, key, next, old, found); err != nil {
			return false, err
		}
		return true, nil
	case Remove:
		if !found {
			return false, nil
		}
		s.remove(sh, key, old)
		return true, nil
	default:
		return false, nil
	}
}

// Len returns the number of keys
func (s *MemoryStorage) Len() int64 {
	return s.keyCount.Load()
}

// MemoryUsage returns the approximate memory held by keys and values
func (s *MemoryStorage) MemoryUsage() int64 {
	return s.memoryUsage.Load()
}

// Reclaimed returns the number of dead values removed so far
func (s *MemoryStorage) Reclaimed() uint64 {
	return s.reclaimed.Load()
}

// Close marks the storage closed and stops the background cleanup;
// subsequent writes fail with ErrClosed
func (s *MemoryStorage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cleanupStop != nil {
		close(s.cleanupStop)
		<-s.cleanupDone
	}
	return nil
}

// Reclaim removes every dead value in all shards and returns how many were
// removed. It is a no-op without WithExpiry.
func (s *MemoryStorage) Reclaim() int {
	if s.expired == nil {
		return 0
	}
	now := s.now()
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, value := range sh.data {
			if s.expired(value, now) {
				s.remove(sh, key, value)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	s.reclaimed.Add(uint64(removed))
	return removed
}

// cleanupExpiredKeys runs in background to clean up expired keys
func (s *MemoryStorage) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.performCleanup()
		}
	}
}

// performCleanup removes expired keys using incremental sampling
func (s *MemoryStorage) performCleanup() {
	for i := range s.shards {
		s.cleanupShard(&s.shards[i])
	}
}

// cleanupShard samples a shard repeatedly while a large share of the sample
// turns out dead
func (s *MemoryStorage) cleanupShard(sh *shard) {
	config := s.cleanupConfig

	for round := 0; round < config.MaxRounds; round++ {
		expiredKeys := s.sampleExpired(sh, config.SampleSize)
		if len(expiredKeys) == 0 {
			break
		}

		for i := 0; i < len(expiredKeys); i += config.BatchSize {
			end := min(i+config.BatchSize, len(expiredKeys))
			s.deleteExpired(sh, expiredKeys[i:end])
			if end < len(expiredKeys) {
				runtime.Gosched()
			}
		}

		if float64(len(expiredKeys))/float64(config.SampleSize) < config.ExpiredThreshold {
			break
		}
		runtime.Gosched()
	}
}

// sampleExpired picks up to sampleSize keys of sh by reservoir sampling and
// returns the dead ones
func (s *MemoryStorage) sampleExpired(sh *shard, sampleSize int) []string {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if len(sh.data) == 0 {
		return nil
	}

	sampled := make([]string, 0, min(sampleSize, len(sh.data)))
	i := 0
	for key := range sh.data {
		if i < sampleSize {
			sampled = append(sampled, key)
		} else if j := rand.IntN(i + 1); j < sampleSize {
			sampled[j] = key
		}
		i++
	}

	now := s.now()
	expiredKeys := sampled[:0]
	for _, key := range sampled {
		if s.expired(sh.data[key], now) {
			expiredKeys = append(expiredKeys, key)
		}
	}
	return expiredKeys
}

// deleteExpired removes keys that are still dead once the write lock is held
func (s *MemoryStorage) deleteExpired(sh *shard, keys []string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	for _, key := range keys {
		if value, ok := sh.data[key]; ok && s.expired(value, now) {
			s.remove(sh, key, value)
			s.reclaimed.Add(1)
		}
	}
}
