// Package sim wires configuration, the process registry, the memory
// manager, the executor, and the scheduler into a single facade exposing
// the operations the driver's REPL needs, mirroring the way the reference
// implementation's main() sequences initialize/reinitialize around one
// global ProcessManager.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/config"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/executor"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/memory"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/scheduler"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/telemetry"
)

// backingStoreFile is the on-disk snapshot path, matching the reference's
// fixed "csopesy-backing-store.txt".
const backingStoreFile = "csopesy-backing-store.txt"

var pow2MemSizes = []uint64{64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// ErrNotInitialized is returned by every operation attempted before
// Initialize.
var ErrNotInitialized = errors.New("sim: not initialized, run the initialize command first")

// ErrAlreadyExists mirrors the reference's "Process already exists" reply
// to screen -s/-c for a duplicate name.
type ErrAlreadyExists struct {
	Name string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("sim: process %q already exists", e.Name)
}

// ErrNotFound mirrors the reference's "Process not found" reply to
// screen -r.
type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("sim: process %q not found", e.Name)
}

// ErrMemoryOutOfRange mirrors the reference's screen -c range check on a
// user-supplied process size.
type ErrMemoryOutOfRange struct {
	Requested, Min, Max uint64
}

func (e *ErrMemoryOutOfRange) Error() string {
	return fmt.Sprintf("sim: requested memory %d outside allowed range [%d-%d]", e.Requested, e.Min, e.Max)
}

// Simulator is the facade the driver talks to. It owns nothing durable
// beyond process-config state: Initialize (re)builds every subsystem from
// a config file.
type Simulator struct {
	log *slog.Logger

	cfg      *config.Config
	registry *process.Registry
	mem      *memory.Manager
	exec     *executor.Executor
	sched    *scheduler.Scheduler

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an uninitialized Simulator; call Initialize before anything
// else.
func New() *Simulator {
	return &Simulator{
		log: telemetry.New("sim", slog.LevelInfo),
		rng: rand.New(rand.NewSource(42)),
	}
}

// Initialized reports whether Initialize has succeeded at least once.
// Shutdown does not reset it.
func (s *Simulator) Initialized() bool {
	return s.cfg != nil
}

// Initialize loads configPath and (re)builds every subsystem. It is safe
// to call again later ("reinitialize"): a running scheduler and its
// auto-generator are stopped first and every subsystem is rebuilt from
// scratch.
func (s *Simulator) Initialize(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if s.sched != nil {
		s.sched.StopGenerator()
		s.sched.Stop()
	}

	lvl := telemetry.ParseLevel(cfg.LogLevel)
	s.log = telemetry.New("sim", lvl)
	s.cfg = cfg
	s.registry = process.NewRegistry()
	if s.mem != nil {
		s.mem.Reset(cfg.NumFrames(), cfg.MemPerFrame, backingStoreFile, s.registry, telemetry.New("memory", lvl))
	} else {
		s.mem = memory.NewManager(cfg.NumFrames(), cfg.MemPerFrame, backingStoreFile, s.registry, telemetry.New("memory", lvl))
	}
	s.exec = executor.New(s.mem, telemetry.New("executor", lvl))
	s.sched = scheduler.New(cfg, s.registry, s.exec, telemetry.New("scheduler", lvl))
	s.sched.Start()

	s.log.Info("simulator initialized", "num_cpu", cfg.NumCPU, "scheduler", cfg.Scheduler, "num_frames", cfg.NumFrames())
	return nil
}

// Config exposes the active configuration snapshot, or nil before
// Initialize.
func (s *Simulator) Config() *config.Config { return s.cfg }

func (s *Simulator) requireInit() error {
	if s.cfg == nil {
		return ErrNotInitialized
	}
	return nil
}

func (s *Simulator) randomMemSize() uint64 {
	var filtered []uint64
	for _, v := range pow2MemSizes {
		if v >= s.cfg.MinMemPerProc && v <= s.cfg.MaxMemPerProc {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) == 0 {
		return s.cfg.MinMemPerProc
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return filtered[s.rng.Intn(len(filtered))]
}

func (s *Simulator) randomBurst() uint64 {
	span := s.cfg.MaxIns - s.cfg.MinIns + 1
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.cfg.MinIns + uint64(s.rng.Int63n(int64(span)))
}

// CreateProcess implements "screen -s <name>": a fresh process with a
// random burst length and a random power-of-two memory size drawn from
// the configured range.
func (s *Simulator) CreateProcess(name string) (*process.Process, error) {
	if err := s.requireInit(); err != nil {
		return nil, err
	}
	if _, exists := s.registry.LookupByName(name); exists {
		return nil, &ErrAlreadyExists{Name: name}
	}

	pid := s.registry.NextPID()
	p := process.New(pid, name, s.randomBurst(), s.randomMemSize(), s.cfg.MemPerFrame)
	s.registry.Register(p)
	s.sched.Enqueue(p)
	s.log.Info("process created", "pid", pid, "name", name, "burst", p.TotalLine, "mem", p.MemorySizeBytes)
	return p, nil
}

// CreateCustomProcess implements "screen -c <name> <mem-size> <program>":
// a process whose instructions are exactly the supplied, validated
// program.
func (s *Simulator) CreateCustomProcess(name string, memSize uint64, rawProgram string) (*process.Process, error) {
	if err := s.requireInit(); err != nil {
		return nil, err
	}
	if _, exists := s.registry.LookupByName(name); exists {
		return nil, &ErrAlreadyExists{Name: name}
	}
	if memSize < s.cfg.MinMemPerProc || memSize > s.cfg.MaxMemPerProc {
		return nil, &ErrMemoryOutOfRange{Requested: memSize, Min: s.cfg.MinMemPerProc, Max: s.cfg.MaxMemPerProc}
	}

	clauses, err := executor.ValidateProgram(rawProgram)
	if err != nil {
		return nil, err
	}

	pid := s.registry.NextPID()
	p := process.NewWithProgram(pid, name, memSize, s.cfg.MemPerFrame, clauses)
	s.registry.Register(p)
	s.sched.Enqueue(p)
	s.log.Info("custom process created", "pid", pid, "name", name, "lines", len(clauses), "mem", memSize)
	return p, nil
}

// AttachProcess implements "screen -r <name>": look up a live process by
// name for the REPL to render.
func (s *Simulator) AttachProcess(name string) (*process.Process, error) {
	if err := s.requireInit(); err != nil {
		return nil, err
	}
	p, ok := s.registry.LookupByName(name)
	if !ok {
		return nil, &ErrNotFound{Name: name}
	}
	return p, nil
}

// ListProcesses implements "screen -ls": every process registered since
// the last Initialize, in registration order by PID.
func (s *Simulator) ListProcesses() ([]*process.Process, error) {
	if err := s.requireInit(); err != nil {
		return nil, err
	}
	list := s.registry.List()
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j-1].ID > list[j].ID; j-- {
			list[j-1], list[j] = list[j], list[j-1]
		}
	}
	return list, nil
}

// StartScheduler implements "scheduler-start": launch the auto-generator.
func (s *Simulator) StartScheduler() error {
	if err := s.requireInit(); err != nil {
		return err
	}
	s.sched.StartGenerator(func(name string) *process.Process {
		pid := s.registry.NextPID()
		p := process.New(pid, name, s.randomBurst(), s.randomMemSize(), s.cfg.MemPerFrame)
		s.registry.Register(p)
		return p
	})
	return nil
}

// StopScheduler implements "scheduler-stop": halt the auto-generator
// without touching the worker pool.
func (s *Simulator) StopScheduler() error {
	if err := s.requireInit(); err != nil {
		return err
	}
	s.sched.StopGenerator()
	return nil
}

// CPUStats reports the aggregate figures process-smi/report-util print.
type CPUStats struct {
	NumCPU               int
	UsedCores            int
	CPUUtil              float64
	ProcessesRun         int
	InstructionsExecuted uint64
}

// Stats gathers current scheduler occupancy for process-smi.
func (s *Simulator) Stats() (CPUStats, error) {
	if err := s.requireInit(); err != nil {
		return CPUStats{}, err
	}
	cores := s.sched.Cores()
	used := 0
	for _, c := range cores {
		if c.Busy {
			used++
		}
	}
	return CPUStats{
		NumCPU:               s.cfg.NumCPU,
		UsedCores:            used,
		CPUUtil:              s.sched.CPUUtilPercent(),
		ProcessesRun:         len(s.registry.List()),
		InstructionsExecuted: s.sched.InstructionsExecuted(),
	}, nil
}

// VMStats reports memory, tick, and paging counters for the vmstats
// command and the introspection HTTP endpoint.
type VMStats struct {
	TotalMemory       uint64
	UsedMemory        uint64
	FreeMemory        uint64
	NumFrames         int
	UsedFrames        int
	ActiveCPUTicks    uint64
	IdleCPUTicks      uint64
	TotalCPUTicks     uint64
	PageIns           uint64
	PageOuts          uint64
	BackingStorePages int
}

// VMStats gathers current memory-manager and scheduler tick counters.
func (s *Simulator) VMStats() (VMStats, error) {
	if err := s.requireInit(); err != nil {
		return VMStats{}, err
	}
	used := s.mem.UsedFrames()
	total := s.mem.NumFrames()
	active, idle, ticks := s.sched.TickCounts()
	return VMStats{
		TotalMemory:       s.cfg.MaxOverallMem,
		UsedMemory:        uint64(used) * s.cfg.MemPerFrame,
		FreeMemory:        uint64(total-used) * s.cfg.MemPerFrame,
		NumFrames:         total,
		UsedFrames:        used,
		ActiveCPUTicks:    active,
		IdleCPUTicks:      idle,
		TotalCPUTicks:     ticks,
		PageIns:           s.mem.PageIns(),
		PageOuts:          s.mem.PageOuts(),
		BackingStorePages: s.mem.BackingStoreLen(),
	}, nil
}

// Shutdown stops the worker pool and the auto-generator cleanly, used by
// the "exit" command. Initialize performs the same two steps itself
// before a reinitialize.
func (s *Simulator) Shutdown() {
	if s.sched != nil {
		s.sched.StopGenerator()
		s.sched.Stop()
	}
}
