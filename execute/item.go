package execute

import (
	"encoding/binary"
	"time"

	"github.com/raniellyferreira/memcore/storage"
)

const (
	// headerSize is the flags (4 bytes) plus expiry (8 bytes) prefix of a stored value
	headerSize = 12

	// relativeExptimeLimit is the largest exptime read as an offset from now (30 days)
	relativeExptimeLimit = 60 * 60 * 24 * 30
)

// item is a decoded stored value
type item struct {
	flags   uint32
	expires int64 // unix seconds, 0 never expires
	data    []byte
}

func encodeItem(flags uint32, expires int64, data []byte) []byte {
	buf := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(buf[0:4], flags)
	binary.BigEndian.PutUint64(buf[4:12], uint64(expires))
	copy(buf[headerSize:], data)
	return buf
}

func decodeItem(raw []byte) (item, bool) {
	if len(raw) < headerSize {
		return item{}, false
	}
	return item{
		flags:   binary.BigEndian.Uint32(raw[0:4]),
		expires: int64(binary.BigEndian.Uint64(raw[4:12])),
		data:    raw[headerSize:],
	}, true
}

func (it item) expired(now int64) bool {
	return it.expires != 0 && it.expires <= now
}

// Expired reports whether a raw stored value holds an item that is dead at
// now. It matches storage.ExpiredFunc; values without an item header are
// never considered expired.
func Expired(raw []byte, now time.Time) bool {
	it, ok := decodeItem(raw)
	return ok && it.expired(now.Unix())
}

// expiry converts a protocol exptime into an absolute unix time
func (f *Factory) expiry(exptime int64) int64 {
	switch {
	case exptime == 0:
		return 0
	case exptime < 0:
		return -1
	case exptime <= relativeExptimeLimit:
		return f.now().Unix() + exptime
	default:
		return exptime
	}
}

// live decodes raw and reports whether it holds an unexpired item
func (f *Factory) live(raw []byte, found bool) (item, bool) {
	if !found {
		return item{}, false
	}
	it, ok := decodeItem(raw)
	if !ok || it.expired(f.now().Unix()) {
		return item{}, false
	}
	return it, true
}

// load returns the live item under key, removing it once it has expired
func (f *Factory) load(st storage.Storage, key string) (item, bool) {
	raw, found := st.Get(key)
	if it, ok := f.live(raw, found); ok {
		return it, true
	}
	if found {
		f.purge(st, key)
	}
	return item{}, false
}

// purge removes key if it still holds a dead item. A failure only delays
// the removal, so it is logged rather than answered.
func (f *Factory) purge(st storage.Storage, key string) {
	_, err := st.Update(key, func(cur []byte, found bool) ([]byte, storage.Action) {
		if _, ok := f.live(cur, found); found && !ok {
			return nil, storage.Remove
		}
		return nil, storage.Keep
	})
	if err != nil {
		f.logger.Error("Failed to purge expired item", "key", key, "error", err)
	}
}

// remove deletes key and reports whether it held a live item
func (f *Factory) remove(st storage.Storage, key string) (bool, error) {
	var wasLive bool
	_, err := st.Update(key, func(cur []byte, found bool) ([]byte, storage.Action) {
		if !found {
			return nil, storage.Keep
		}
		_, wasLive = f.live(cur, found)
		return nil, storage.Remove
	})
	if err != nil {
		return false, err
	}
	return wasLive, nil
}
