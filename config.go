package memcore

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileConfig is the TOML representation of the server configuration.
// Zero values leave the corresponding default untouched.
//
// Example file:
//
//	listen = ":11211"
//	strategy = "single-threaded"
//	max_memory = 67108864
//	script_timeout = "2s"
type FileConfig struct {
	Listen         string `toml:"listen"`
	Strategy       string `toml:"strategy"`
	Workers        int    `toml:"workers"`
	ReadBuffer     int    `toml:"read_buffer"`
	MaxOutputQueue int    `toml:"max_output_queue"`
	MaxEvents      int    `toml:"max_events"`
	Shards         int    `toml:"shards"`
	MaxMemory      int64  `toml:"max_memory"`
	StackSnapshots bool   `toml:"stack_snapshots"`
	ScriptTimeout  string `toml:"script_timeout"`
}

// LoadConfigFile reads a TOML configuration file and returns the options it
// describes
//
// Example:
//
//	opts, err := memcore.LoadConfigFile("/etc/memcored.toml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv, err := memcore.New(opts...)
func LoadConfigFile(path string) ([]Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML configuration data into options
func ParseConfig(data []byte) ([]Option, error) {
	var fc FileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return fc.Options()
}

// Options converts the file configuration into options. Invalid values are
// reported here rather than at New.
func (fc FileConfig) Options() ([]Option, error) {
	var opts []Option

	if fc.Listen != "" {
		opts = append(opts, WithListenAddr(fc.Listen))
	}
	if fc.Strategy != "" {
		s, err := ParseStrategy(fc.Strategy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStrategy(s))
	}
	if fc.ScriptTimeout != "" {
		d, err := time.ParseDuration(fc.ScriptTimeout)
		if err != nil || d <= 0 {
			return nil, &ConfigError{Field: "script_timeout", Value: fc.ScriptTimeout}
		}
		opts = append(opts, WithScriptTimeout(d))
	}

	ints := []struct {
		value int
		opt   func(int) Option
	}{
		{fc.Workers, WithWorkers},
		{fc.ReadBuffer, WithReadBufferSize},
		{fc.MaxOutputQueue, WithMaxOutputQueue},
		{fc.MaxEvents, WithMaxEvents},
		{fc.Shards, WithShardCount},
	}
	for _, v := range ints {
		if v.value != 0 {
			opts = append(opts, v.opt(v.value))
		}
	}

	if fc.MaxMemory != 0 {
		opts = append(opts, WithMaxMemory(fc.MaxMemory))
	}
	if fc.StackSnapshots {
		opts = append(opts, WithStackSnapshots(true))
	}

	// Validate eagerly so a bad file fails at load time
	probe := defaultConfig()
	for _, opt := range opts {
		if err := opt(probe); err != nil {
			return nil, err
		}
	}

	return opts, nil
}

// Marshal encodes the file configuration as TOML
func (fc FileConfig) Marshal() ([]byte, error) {
	return toml.Marshal(fc)
}
