package execute

import (
	"github.com/raniellyferreira/memcore/protocol"
	"github.com/raniellyferreira/memcore/storage"
)

var (
	replyStored    = protocol.Line(protocol.ReplyStored)
	replyNotStored = protocol.Line(protocol.ReplyNotStored)
	replyDeleted   = protocol.Line(protocol.ReplyDeleted)
	replyNotFound  = protocol.Line(protocol.ReplyNotFound)
	replyTouched   = protocol.Line(protocol.ReplyTouched)
	replyEnd       = protocol.Line(protocol.ReplyEnd)
)

// storeCommand implements set, add, replace, append and prepend
type storeCommand struct {
	f       *Factory
	mode    string
	key     string
	flags   uint32
	exptime int64
	size    int
	noreply bool
}

func (c *storeCommand) Execute(st storage.Storage, arg []byte) ([]byte, error) {
	data, err := dataBlock(arg, c.size)
	if err != nil {
		return nil, err
	}

	var stored bool
	switch c.mode {
	case protocol.CmdSet:
		err = st.Put(c.key, encodeItem(c.flags, c.f.expiry(c.exptime), data))
		stored = err == nil
	case protocol.CmdAdd:
		value := encodeItem(c.flags, c.f.expiry(c.exptime), data)
		stored, err = st.Update(c.key, func(cur []byte, found bool) ([]byte, storage.Action) {
			if _, ok := c.f.live(cur, found); ok {
				return nil, storage.Keep
			}
			return value, storage.Store
		})
	case protocol.CmdReplace:
		value := encodeItem(c.flags, c.f.expiry(c.exptime), data)
		stored, err = st.Update(c.key, func(cur []byte, found bool) ([]byte, storage.Action) {
			if _, ok := c.f.live(cur, found); !ok {
				return nil, storage.Keep
			}
			return value, storage.Store
		})
	default:
		// append and prepend keep the flags and expiry of the existing item
		stored, err = st.Update(c.key, func(cur []byte, found bool) ([]byte, storage.Action) {
			it, ok := c.f.live(cur, found)
			if !ok {
				return nil, storage.Keep
			}
			joined := make([]byte, 0, len(it.data)+len(data))
			if c.mode == protocol.CmdAppend {
				joined = append(append(joined, it.data...), data...)
			} else {
				joined = append(append(joined, data...), it.data...)
			}
			return encodeItem(it.flags, it.expires, joined), storage.Store
		})
	}
	if err != nil {
		return nil, err
	}

	if c.noreply {
		return nil, nil
	}
	if stored {
		return replyStored, nil
	}
	return replyNotStored, nil
}

// getCommand implements get for one or more keys
type getCommand struct {
	f    *Factory
	keys []string
}

func (c *getCommand) Execute(st storage.Storage, _ []byte) ([]byte, error) {
	w := protocol.NewWriter(64)
	for _, key := range c.keys {
		if it, ok := c.f.load(st, key); ok {
			w.WriteValue(key, it.flags, it.data)
		}
	}
	w.WriteEnd()
	return w.Bytes(), nil
}

// deleteCommand implements delete
type deleteCommand struct {
	f       *Factory
	key     string
	noreply bool
}

func (c *deleteCommand) Execute(st storage.Storage, _ []byte) ([]byte, error) {
	deleted, err := c.f.remove(st, c.key)
	if err != nil {
		return nil, err
	}
	if c.noreply {
		return nil, nil
	}
	if deleted {
		return replyDeleted, nil
	}
	return replyNotFound, nil
}

// touchCommand implements touch
type touchCommand struct {
	f       *Factory
	key     string
	exptime int64
	noreply bool
}

func (c *touchCommand) Execute(st storage.Storage, _ []byte) ([]byte, error) {
	expires := c.f.expiry(c.exptime)
	touched, err := st.Update(c.key, func(cur []byte, found bool) ([]byte, storage.Action) {
		it, ok := c.f.live(cur, found)
		if !ok {
			return nil, storage.Keep
		}
		return encodeItem(it.flags, expires, it.data), storage.Store
	})
	if err != nil {
		return nil, err
	}

	if c.noreply {
		return nil, nil
	}
	if touched {
		return replyTouched, nil
	}
	return replyNotFound, nil
}

// arithCommand implements incr and decr
type arithCommand struct {
	f       *Factory
	key     string
	delta   uint64
	decr    bool
	noreply bool
}

var errNonNumeric = &ClientError{Message: "cannot increment or decrement non-numeric value"}

func (c *arithCommand) Execute(st storage.Storage, _ []byte) ([]byte, error) {
	var (
		result   uint64
		found    bool
		badValue bool
	)
	_, err := st.Update(c.key, func(cur []byte, exists bool) ([]byte, storage.Action) {
		it, ok := c.f.live(cur, exists)
		if !ok {
			return nil, storage.Keep
		}
		found = true

		n, perr := protocol.ParseUint64(it.data)
		if perr != nil {
			badValue = true
			return nil, storage.Keep
		}
		switch {
		case !c.decr:
			// incr wraps around at 64 bits
			result = n + c.delta
		case c.delta > n:
			result = 0
		default:
			result = n - c.delta
		}

		w := protocol.NewWriter(20)
		w.WriteUint(result)
		digits := w.Bytes()[:w.Len()-len(protocol.CRLF)]
		return encodeItem(it.flags, it.expires, digits), storage.Store
	})
	if err != nil {
		return nil, err
	}
	if badValue {
		return nil, errNonNumeric
	}

	if c.noreply {
		return nil, nil
	}
	if !found {
		return replyNotFound, nil
	}
	w := protocol.NewWriter(22)
	w.WriteUint(result)
	return w.Bytes(), nil
}
