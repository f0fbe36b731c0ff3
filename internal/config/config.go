// Package config defines the option structs each pair generator and the
// shared matcher pool are constructed from, their flag.FlagSet wiring, and
// validation that surfaces out-of-range values as a ConfigError at
// construction time.
package config

import (
	"flag"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid"
)

// ConfigError reports an out-of-range or otherwise invalid option.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// UseHardwareConcurrency is the num_threads sentinel meaning "pick the
// thread count from the machine's reported hardware concurrency".
const UseHardwareConcurrency = -1

// Matching holds the options shared across every generator's underlying
// matcher pool.
type Matching struct {
	NumThreads    int
	UseGPU        bool
	GPUIndices    []int
	MaxNumMatches int
	MinNumMatches int
}

// ResolveNumThreads turns the UseHardwareConcurrency sentinel into a
// concrete thread count. cpuid.CPU.LogicalCores is consulted first since
// it's the library the wider dependency stack already uses for CPU
// capability probing; runtime.NumCPU is the fallback when it reports
// nothing useful.
func ResolveNumThreads(n int) int {
	if n != UseHardwareConcurrency {
		return n
	}
	if cores := cpuid.CPU.LogicalCores; cores > 0 {
		return cores
	}
	return runtime.NumCPU()
}

func (m Matching) Validate() error {
	if m.MaxNumMatches <= 0 {
		return &ConfigError{Field: "max_num_matches", Reason: "must be > 0"}
	}
	if m.MinNumMatches < 0 {
		return &ConfigError{Field: "min_num_matches", Reason: "must be >= 0"}
	}
	if m.MinNumMatches > m.MaxNumMatches {
		return &ConfigError{Field: "min_num_matches", Reason: "must be <= max_num_matches"}
	}
	return nil
}

// DefaultMatching mirrors the values a first matching run is typically
// started with.
func DefaultMatching() Matching {
	return Matching{
		NumThreads:    UseHardwareConcurrency,
		UseGPU:        false,
		GPUIndices:    nil,
		MaxNumMatches: 32768,
		MinNumMatches: 15,
	}
}

// gpuIndexList is a flag.Value over *[]int for the comma-separated gpu_index
// option: "-1" or "" means every enumerated device, matching the dispatcher's
// own fallback for a nil/empty Matching.GPUIndices.
type gpuIndexList struct {
	target *[]int
}

func (g gpuIndexList) String() string {
	if g.target == nil || len(*g.target) == 0 {
		return "-1"
	}
	parts := make([]string, len(*g.target))
	for i, idx := range *g.target {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ",")
}

func (g gpuIndexList) Set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || s == "-1" {
		*g.target = nil
		return nil
	}
	indices := make([]int, 0, strings.Count(s, ",")+1)
	for _, part := range strings.Split(s, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fmt.Errorf("gpu_index: %q is not an integer", part)
		}
		indices = append(indices, idx)
	}
	*g.target = indices
	return nil
}

// RegisterMatchingFlags wires Matching's fields onto fs, returning the
// backing struct the flags populate on Parse.
func RegisterMatchingFlags(fs *flag.FlagSet) *Matching {
	m := DefaultMatching()
	fs.IntVar(&m.NumThreads, "num_threads", m.NumThreads, "number of CPU matcher threads, -1 for hardware concurrency")
	fs.BoolVar(&m.UseGPU, "use_gpu", m.UseGPU, "match on GPU devices instead of CPU threads")
	fs.Var(gpuIndexList{target: &m.GPUIndices}, "gpu_index", "comma-separated GPU device indices to use, -1 for every enumerated device")
	fs.IntVar(&m.MaxNumMatches, "max_num_matches", m.MaxNumMatches, "cap on returned match list length")
	fs.IntVar(&m.MinNumMatches, "min_num_matches", m.MinNumMatches, "matches below this count are zeroed before persisting")
	return &m
}

// Exhaustive is the exhaustive generator's options.
type Exhaustive struct {
	BlockSize int
}

func (o Exhaustive) Validate() error {
	if o.BlockSize <= 1 {
		return &ConfigError{Field: "block_size", Reason: "must be > 1"}
	}
	return nil
}

// Sequential is the sequential generator's options.
type Sequential struct {
	Overlap          int
	QuadraticOverlap bool
}

func (o Sequential) Validate() error {
	if o.Overlap <= 0 {
		return &ConfigError{Field: "overlap", Reason: "must be > 0"}
	}
	return nil
}

// Spatial is the spatial (k-nearest) generator's options.
type Spatial struct {
	MaxNumNeighbors int
	MaxDistance     float64
	IsGPS           bool
	IgnoreZ         bool
}

func (o Spatial) Validate() error {
	if o.MaxNumNeighbors <= 0 {
		return &ConfigError{Field: "max_num_neighbors", Reason: "must be > 0"}
	}
	if o.MaxDistance <= 0 {
		return &ConfigError{Field: "max_distance", Reason: "must be > 0"}
	}
	return nil
}

// Transitive is the transitive-closure generator's options.
type Transitive struct {
	BatchSize     int
	NumIterations int
}

func (o Transitive) Validate() error {
	if o.BatchSize <= 0 {
		return &ConfigError{Field: "batch_size", Reason: "must be > 0"}
	}
	if o.NumIterations <= 0 {
		return &ConfigError{Field: "num_iterations", Reason: "must be > 0"}
	}
	return nil
}

// ImagePairs is the external pair-list generator's options.
type ImagePairs struct {
	BlockSize     int
	MatchListPath string
}

func (o ImagePairs) Validate() error {
	if o.BlockSize <= 0 {
		return &ConfigError{Field: "block_size", Reason: "must be > 0"}
	}
	if o.MatchListPath == "" {
		return &ConfigError{Field: "match_list_path", Reason: "must be set"}
	}
	return nil
}

// FeaturePairs is the feature-pair importer's options.
type FeaturePairs struct {
	MatchListPath string
}

func (o FeaturePairs) Validate() error {
	if o.MatchListPath == "" {
		return &ConfigError{Field: "match_list_path", Reason: "must be set"}
	}
	return nil
}
