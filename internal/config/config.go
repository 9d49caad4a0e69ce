// Package config loads and validates the simulator's tunable parameters
// from a plaintext key/value file, freezing them into an immutable snapshot
// shared by every other subsystem.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/telemetry"
)

// Policy selects which ready queue and quantum rule the scheduler applies.
type Policy int

const (
	FCFS Policy = iota
	RoundRobin
)

func (p Policy) String() string {
	if p == RoundRobin {
		return "rr"
	}
	return "fcfs"
}

// Config is the immutable snapshot of every tunable in the system. It is
// only ever constructed by Load/Parse; nothing mutates it afterwards.
type Config struct {
	NumCPU           int
	Scheduler        Policy
	QuantumCycles    uint64
	BatchProcessFreq uint64
	MinIns           uint64
	MaxIns           uint64
	DelayPerExec     uint64
	MaxOverallMem    uint64
	MemPerFrame      uint64
	MinMemPerProc    uint64
	MaxMemPerProc    uint64
	LogLevel         string
}

// NumFrames returns how many fixed-size physical frames the configured
// memory budget provides.
func (c *Config) NumFrames() uint64 {
	return c.MaxOverallMem / c.MemPerFrame
}

// ConfigError reports a malformed key, an out-of-range value, or an
// inconsistency between two fields (e.g. min-ins > max-ins).
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

var powersOfTwo = []uint64{64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

func isPowerOfTwoInRange(v uint64) bool {
	for _, p := range powersOfTwo {
		if v == p {
			return true
		}
	}
	return false
}

// Load reads and validates a configuration file from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse validates the config format directly from a reader, so tests don't
// need to touch the filesystem.
func Parse(r io.Reader) (*Config, error) {
	log := telemetry.New("config", slog.LevelInfo)

	raw := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := splitFields(scanner.Text())
		for i := 0; i+1 < len(fields); i += 2 {
			raw[fields[i]] = fields[i+1]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading input: %w", err)
	}

	cfg := &Config{LogLevel: "info"}
	known := map[string]bool{
		"num-cpu": true, "scheduler": true, "quantum-cycles": true,
		"batch-process-freq": true, "min-ins": true, "max-ins": true,
		"delay-per-exec": true, "max-overall-mem": true, "mem-per-frame": true,
		"min-mem-per-proc": true, "max-mem-per-proc": true, "log-level": true,
	}
	for key := range raw {
		if !known[key] {
			log.Error("unknown config key", "key", key)
			return nil, &ConfigError{Key: key, Reason: "unknown key"}
		}
	}

	numCPU, err := requireInt(raw, "num-cpu", 1, 128)
	if err != nil {
		log.Error("invalid num-cpu", "error", err)
		return nil, err
	}
	cfg.NumCPU = numCPU

	switch raw["scheduler"] {
	case "fcfs", "FCFS":
		cfg.Scheduler = FCFS
	case "rr", "RR":
		cfg.Scheduler = RoundRobin
	default:
		log.Error("invalid scheduler", "value", raw["scheduler"])
		return nil, &ConfigError{Key: "scheduler", Reason: "must be 'fcfs' or 'rr'"}
	}

	if cfg.QuantumCycles, err = requireUint32Range(raw, "quantum-cycles"); err != nil {
		log.Error("invalid quantum-cycles", "error", err)
		return nil, err
	}
	if cfg.BatchProcessFreq, err = requireUint32Range(raw, "batch-process-freq"); err != nil {
		log.Error("invalid batch-process-freq", "error", err)
		return nil, err
	}
	if cfg.MinIns, err = requireUint32Range(raw, "min-ins"); err != nil {
		log.Error("invalid min-ins", "error", err)
		return nil, err
	}
	if cfg.MaxIns, err = requireUint32Range(raw, "max-ins"); err != nil {
		log.Error("invalid max-ins", "error", err)
		return nil, err
	}
	if cfg.MinIns > cfg.MaxIns {
		log.Error("min-ins exceeds max-ins", "min_ins", cfg.MinIns, "max_ins", cfg.MaxIns)
		return nil, &ConfigError{Key: "min-ins", Reason: "min-ins cannot be greater than max-ins"}
	}

	delay, err := parseUint(raw, "delay-per-exec")
	if err != nil {
		log.Error("invalid delay-per-exec", "error", err)
		return nil, err
	}
	if delay > uint32Max {
		log.Error("invalid delay-per-exec", "value", delay)
		return nil, &ConfigError{Key: "delay-per-exec", Reason: "must be in [0, 2^32]"}
	}
	cfg.DelayPerExec = delay

	if cfg.MaxOverallMem, err = requirePow2(raw, "max-overall-mem"); err != nil {
		log.Error("invalid max-overall-mem", "error", err)
		return nil, err
	}
	if cfg.MemPerFrame, err = requirePow2(raw, "mem-per-frame"); err != nil {
		log.Error("invalid mem-per-frame", "error", err)
		return nil, err
	}
	if cfg.MinMemPerProc, err = requirePow2(raw, "min-mem-per-proc"); err != nil {
		log.Error("invalid min-mem-per-proc", "error", err)
		return nil, err
	}
	if cfg.MaxMemPerProc, err = requirePow2(raw, "max-mem-per-proc"); err != nil {
		log.Error("invalid max-mem-per-proc", "error", err)
		return nil, err
	}
	if cfg.MemPerFrame > cfg.MaxOverallMem {
		log.Error("mem-per-frame exceeds max-overall-mem", "mem_per_frame", cfg.MemPerFrame, "max_overall_mem", cfg.MaxOverallMem)
		return nil, &ConfigError{Key: "mem-per-frame", Reason: "must not exceed max-overall-mem"}
	}
	if cfg.MinMemPerProc > cfg.MaxMemPerProc {
		log.Error("min-mem-per-proc exceeds max-mem-per-proc", "min_mem_per_proc", cfg.MinMemPerProc, "max_mem_per_proc", cfg.MaxMemPerProc)
		return nil, &ConfigError{Key: "min-mem-per-proc", Reason: "must not exceed max-mem-per-proc"}
	}
	if cfg.MinMemPerProc < cfg.MemPerFrame {
		log.Error("min-mem-per-proc below mem-per-frame", "min_mem_per_proc", cfg.MinMemPerProc, "mem_per_frame", cfg.MemPerFrame)
		return nil, &ConfigError{Key: "min-mem-per-proc", Reason: "must be at least mem-per-frame"}
	}

	if lvl, ok := raw["log-level"]; ok {
		cfg.LogLevel = lvl
	}

	log.Info("configuration loaded",
		"num_cpu", cfg.NumCPU, "scheduler", cfg.Scheduler,
		"quantum_cycles", cfg.QuantumCycles, "max_overall_mem", cfg.MaxOverallMem,
		"mem_per_frame", cfg.MemPerFrame)

	return cfg, nil
}

func splitFields(line string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = nil
		}
	}
	for _, r := range line {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			flush()
			continue
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

func parseUint(raw map[string]string, key string) (uint64, error) {
	v, ok := raw[key]
	if !ok {
		return 0, &ConfigError{Key: key, Reason: "missing"}
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: "not an integer"}
	}
	return n, nil
}

func requireInt(raw map[string]string, key string, min, max int) (int, error) {
	v, ok := raw[key]
	if !ok {
		return 0, &ConfigError{Key: key, Reason: "missing"}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: "not an integer"}
	}
	if n < min || n > max {
		return 0, &ConfigError{Key: key, Reason: fmt.Sprintf("must be in [%d,%d]", min, max)}
	}
	return n, nil
}

const uint32Max = 1 << 32

func requireUint32Range(raw map[string]string, key string) (uint64, error) {
	n, err := parseUint(raw, key)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > uint32Max {
		return 0, &ConfigError{Key: key, Reason: "must be in [1, 2^32]"}
	}
	return n, nil
}

func requirePow2(raw map[string]string, key string) (uint64, error) {
	n, err := parseUint(raw, key)
	if err != nil {
		return 0, err
	}
	if !isPowerOfTwoInRange(n) {
		return 0, &ConfigError{Key: key, Reason: "must be a power of two in [64, 65536]"}
	}
	return n, nil
}
