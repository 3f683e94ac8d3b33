// Package config loads the detector's one configuration file, per spec
// §6: sections for sampling rate, instrumentation flags, excluded module
// names, excluded path prefixes, and output paths, all with documented
// defaults.
//
// The teacher has no config file at all (its cmd/racedetector flags are
// all command-line only). Grounded on gopkg.in/yaml.v3, already in the
// teacher's go.mod and the pack's recurring choice for structured config
// (seen across multiple manifests in the retrieval pack), following the
// plain-struct-plus-tags idiom yaml.v3 is built around.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sampling controls the admit-1-in-N throttling from spec §4.4.
type Sampling struct {
	// Period is the sampling_period passed to each new ThreadState; 0
	// means every event is admitted.
	Period uint32 `yaml:"period"`
}

// Instrumentation toggles which event classes the instrumenter emits.
// Instrumentation itself is an external collaborator per spec §1; the
// engine does not read these fields and processes every event it
// receives.
type Instrumentation struct {
	Reads       bool `yaml:"reads"`
	Writes      bool `yaml:"writes"`
	Sync        bool `yaml:"sync"`
	Allocations bool `yaml:"allocations"`
}

// Exclusions names modules and path prefixes to exclude from
// instrumentation and race reports. They are only parsed here; the
// engine does not consult them.
type Exclusions struct {
	Modules      []string `yaml:"modules"`
	PathPrefixes []string `yaml:"path_prefixes"`
}

// Output controls where detected races are written and how quickly.
type Output struct {
	// XMLPath, if non-empty, writes a Valgrind-compatible XML report
	// there on finalize.
	XMLPath string `yaml:"xml_path"`
	// Terminal enables the human-readable terminal sink on stderr.
	Terminal bool `yaml:"terminal"`
	// MaxReportsPerSecond bounds RaceCollector's rate limiter; 0 disables
	// rate limiting.
	MaxReportsPerSecond float64 `yaml:"max_reports_per_second"`
	// DedupCapacity bounds the RaceCollector's LRU dedup set.
	DedupCapacity int `yaml:"dedup_capacity"`
}

// SymbolResolver configures the external managed-symbol-resolver
// collaborator from spec §6.
type SymbolResolver struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the top-level document, one file covering every section
// named in spec §6.
type Config struct {
	Sampling        Sampling        `yaml:"sampling"`
	Instrumentation Instrumentation `yaml:"instrumentation"`
	Exclusions      Exclusions      `yaml:"exclusions"`
	Output          Output          `yaml:"output"`
	SymbolResolver  SymbolResolver  `yaml:"symbol_resolver"`
}

// Default returns the documented defaults: no sampling throttle, every
// event class instrumented, no exclusions, terminal output only, a
// 4096-entry dedup LRU with no rate limit, symbol resolution disabled.
func Default() Config {
	return Config{
		Sampling: Sampling{Period: 0},
		Instrumentation: Instrumentation{
			Reads: true, Writes: true, Sync: true, Allocations: true,
		},
		Output: Output{
			Terminal:            true,
			MaxReportsPerSecond: 0,
			DedupCapacity:       4096,
		},
		SymbolResolver: SymbolResolver{Enabled: false, Timeout: 2 * time.Second},
	}
}

// Load reads and parses a YAML config file, overlaying it onto Default()
// so an omitted section keeps its documented default rather than
// zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// IsExcludedModule reports whether module matches one of the configured
// exclusions.
func (c Config) IsExcludedModule(module string) bool {
	for _, m := range c.Exclusions.Modules {
		if m == module {
			return true
		}
	}
	return false
}

// IsExcludedPath reports whether path has one of the configured excluded
// prefixes.
func (c Config) IsExcludedPath(path string) bool {
	for _, prefix := range c.Exclusions.PathPrefixes {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
