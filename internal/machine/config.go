package machine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML document pointed to by cmd/yove's -config
// flag (SPEC_FULL.md §3). Nothing in spec.md requires a config file; this
// gives gopkg.in/yaml.v3 (already a teacher dependency) a concrete home
// rather than dropping it, the way the teacher's own cmd/* tools read
// small YAML documents for host-side knobs that don't belong on the
// command line.
type Config struct {
	// MemoryBytes is the size of the shared physical memory pool, rounded
	// down to a page. Zero means use the built-in default.
	MemoryBytes uint32 `yaml:"memory_bytes"`

	// DNSUpstream is the host:port the DNS resolver service queries.
	// Empty means the service's own built-in default.
	DNSUpstream string `yaml:"dns_upstream"`

	// Args, if set, overrides the guest argv forwarded in the ArgL tag
	// instead of deriving it from the host command line's "--" split.
	Args []string `yaml:"args"`
}

// LoadConfig reads and parses a YAML config file. A missing path is not an
// error at the call site: callers pass "" to mean "no config file" and
// skip calling this.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
