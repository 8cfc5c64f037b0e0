package execute

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/raniellyferreira/memcore/lua"
	"github.com/raniellyferreira/memcore/protocol"
	"github.com/raniellyferreira/memcore/storage"
)

var errNoScript = &ClientError{Message: "NOSCRIPT no matching script"}

// evalCommand implements eval (script in the data block) and evalsha
type evalCommand struct {
	f    *Factory
	keys []string
	size int
	sha  string
}

func (c *evalCommand) Execute(st storage.Storage, arg []byte) ([]byte, error) {
	store := scriptStore{f: c.f, st: st}

	var (
		result interface{}
		err    error
	)
	if c.sha != "" {
		result, err = c.f.scripts.EvalSHA(store, c.sha, c.keys)
	} else {
		script, derr := dataBlock(arg, c.size)
		if derr != nil {
			return nil, derr
		}
		result, err = c.f.scripts.Eval(store, string(script), c.keys)
	}
	if errors.Is(err, lua.ErrNoScript) {
		return nil, errNoScript
	}
	if err != nil {
		return nil, err
	}
	return formatResult(result), nil
}

// scriptLoadCommand caches a script and answers with its SHA1
type scriptLoadCommand struct {
	f    *Factory
	size int
}

func (c *scriptLoadCommand) Execute(_ storage.Storage, arg []byte) ([]byte, error) {
	script, err := dataBlock(arg, c.size)
	if err != nil {
		return nil, err
	}
	return protocol.Line(c.f.scripts.LoadScript(string(script))), nil
}

// scriptStore exposes the item view of the storage to scripts. Values set
// from Lua carry no flags and never expire.
type scriptStore struct {
	f  *Factory
	st storage.Storage
}

func (s scriptStore) Get(key string) ([]byte, bool) {
	it, ok := s.f.load(s.st, key)
	return it.data, ok
}

func (s scriptStore) Set(key string, value []byte) error {
	return s.st.Put(key, encodeItem(0, 0, value))
}

func (s scriptStore) Delete(key string) bool {
	deleted, err := s.f.remove(s.st, key)
	if err != nil {
		s.f.logger.Error("Script delete failed", "key", key, "error", err)
	}
	return deleted
}

// formatResult renders a script result as a get-style reply. Scalars are a
// single VALUE named "result", arrays one VALUE per element named by its
// index and maps one VALUE per field. nil and false yield a bare END.
func formatResult(result interface{}) []byte {
	w := protocol.NewWriter(64)
	switch v := result.(type) {
	case nil:
	case bool:
		if v {
			w.WriteValue("result", 0, []byte("1"))
		}
	case []interface{}:
		for i, elem := range v {
			w.WriteValue(strconv.Itoa(i+1), 0, []byte(scalarString(elem)))
		}
	case map[string]interface{}:
		fields := make([]string, 0, len(v))
		for k := range v {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, k := range fields {
			w.WriteValue(k, 0, []byte(scalarString(v[k])))
		}
	default:
		w.WriteValue("result", 0, []byte(scalarString(v)))
	}
	w.WriteEnd()
	return w.Bytes()
}

func scalarString(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(v)
	}
}
