package rewind

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.rewind/config.yaml"
	configPathEnv     = "REWINDCONFIG"
)

// Config is rewind configuration.
type Config struct {
	// Compression selects the compression of durable recording frames, one
	// of "snappy", "zstd" or "none".
	Compression string `yaml:"compression"`

	// DataPollInterval is how often a replaying thread which exhausted its
	// event stream polls for more data from a live recording.
	DataPollInterval Duration `yaml:"data-poll-interval"`

	// StallReportInterval is how long a checkpoint waits without progress
	// before dumping thread state to stderr.
	StallReportInterval Duration `yaml:"stall-report-interval"`
}

// DefaultConfig is the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Compression:         "zstd",
		DataPollInterval:    Duration(100 * time.Millisecond),
		StallReportInterval: Duration(5 * time.Second),
	}
}

// LoadConfig opens and reads the configuration file.
func LoadConfig() (*Config, error) {
	r, path, err := OpenConfig()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	c, err := ReadConfig(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// OpenConfig opens the configuration file. The path is taken from the
// REWINDCONFIG environment variable, falling back to ~/.rewind/config.yaml;
// a missing file yields the default configuration.
func OpenConfig() (io.ReadCloser, string, error) {
	path := os.Getenv(configPathEnv)
	if path == "" {
		path = defaultConfigPath
	}
	path, err := resolvePath(path)
	if err != nil {
		return nil, path, err
	}
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, path, err
		}
		b, _ := yaml.Marshal(DefaultConfig())
		return io.NopCloser(bytes.NewReader(b)), path, nil
	}
	return f, path, nil
}

// ReadConfig reads and parses configuration.
func ReadConfig(r io.Reader) (*Config, error) {
	c := DefaultConfig()
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return c, nil
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path, err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// Duration is a time.Duration configurable from its string form.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("malformed duration: %q", node.Value)
	}
	*d = Duration(v)
	return nil
}
