// Package scheduler runs one worker goroutine per configured CPU, pulling
// processes off a shared ready queue under FCFS or round-robin, and an
// optional auto-generator goroutine that manufactures new processes at a
// fixed cadence. It mirrors the reference kernel's colaReady/condReady
// pattern, generalised from a single dispatch loop to one goroutine per
// core.
package scheduler

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/config"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/executor"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
)

// tickInterval is the resolution at which idle workers re-check the ready
// queue. The reference implementation blocks on a condition_variable with
// a 1ms wait_for; sync.Cond has no timed wait, so a ticker goroutine
// broadcasts on the same condition every tickInterval instead.
const tickInterval = time.Millisecond

// Core reports one CPU's live status, snapshotted for process-smi/screen -ls.
type Core struct {
	ID   int
	Busy bool
	PID  int
	Name string
}

// Scheduler owns the ready queue, the per-core worker pool, and the
// optional auto-generator. All exported methods are safe for concurrent
// use by the driving REPL.
type Scheduler struct {
	cfg      *config.Config
	registry *process.Registry
	exec     *executor.Executor
	log      *slog.Logger

	readyMu sync.Mutex
	ready   []*process.Process
	cond    *sync.Cond

	cores []*coreState

	stopWorkers atomic.Bool
	wg          sync.WaitGroup

	tickerStop chan struct{}

	stopGen    atomic.Bool
	genRunning atomic.Bool
	genWg      sync.WaitGroup
	genCounter atomic.Uint64

	utilBusySamples atomic.Uint64
	utilIdleSamples atomic.Uint64

	utilStop chan struct{}

	instructionsExecuted atomic.Uint64

	// activeTicks/idleTicks/totalTicks count worker-loop iterations, not
	// wall-clock samples: every iteration bumps totalTicks, and exactly
	// one of activeTicks or idleTicks depending on whether it found a
	// process to run.
	activeTicks atomic.Uint64
	idleTicks   atomic.Uint64
	totalTicks  atomic.Uint64
}

type coreState struct {
	mu   sync.RWMutex
	id   int
	busy bool
	pid  int
	name string
}

// New builds a Scheduler bound to cfg.NumCPU workers. Call Start to launch
// the worker pool.
func New(cfg *config.Config, registry *process.Registry, exec *executor.Executor, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		registry: registry,
		exec:     exec,
		log:      log,
	}
	s.cond = sync.NewCond(&s.readyMu)
	s.cores = make([]*coreState, cfg.NumCPU)
	for i := range s.cores {
		s.cores[i] = &coreState{id: i + 1, pid: -1}
	}
	return s
}

// Start launches one worker goroutine per core plus the 1ms wake ticker.
func (s *Scheduler) Start() {
	s.stopWorkers.Store(false)
	s.tickerStop = make(chan struct{})
	s.utilStop = make(chan struct{})
	go s.sampleUtilization()

	go func() {
		t := time.NewTicker(tickInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.readyMu.Lock()
				s.cond.Broadcast()
				s.readyMu.Unlock()
			case <-s.tickerStop:
				return
			}
		}
	}()

	for _, c := range s.cores {
		s.wg.Add(1)
		go s.worker(c)
	}
}

// Stop halts the worker pool and the wake ticker, waiting for in-flight
// quanta to finish. Queued processes are left in the ready queue.
func (s *Scheduler) Stop() {
	s.stopWorkers.Store(true)
	s.readyMu.Lock()
	s.cond.Broadcast()
	s.readyMu.Unlock()
	close(s.tickerStop)
	close(s.utilStop)
	s.wg.Wait()
}

// Enqueue admits a process into the ready queue and wakes a worker.
func (s *Scheduler) Enqueue(p *process.Process) {
	s.readyMu.Lock()
	s.ready = append(s.ready, p)
	s.readyMu.Unlock()
	s.cond.Signal()
}

// ReadyLen reports the current ready-queue depth, for process-smi.
func (s *Scheduler) ReadyLen() int {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	return len(s.ready)
}

// CPUUtilPercent reports the fraction of sampled core-ticks spent busy,
// matching the reference's process-smi definition: busy samples / (busy +
// idle samples), scaled to a percentage. Returns 0 before any sample is
// taken.
func (s *Scheduler) CPUUtilPercent() float64 {
	busy := s.utilBusySamples.Load()
	idle := s.utilIdleSamples.Load()
	total := busy + idle
	if total == 0 {
		return 0
	}
	return 100 * float64(busy) / float64(total)
}

// sampleUtilization polls every core's occupancy at a fixed cadence and
// folds the result into the running busy/idle sample counts used by
// CPUUtilPercent.
func (s *Scheduler) sampleUtilization() {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			for _, c := range s.cores {
				c.mu.RLock()
				busy := c.busy
				c.mu.RUnlock()
				if busy {
					s.utilBusySamples.Add(1)
				} else {
					s.utilIdleSamples.Add(1)
				}
			}
		case <-s.utilStop:
			return
		}
	}
}

// TickCounts reports the worker-loop active/idle/total tick counters:
// every loop iteration across every core bumps total, and exactly one of
// active or idle depending on whether it found a process to run.
func (s *Scheduler) TickCounts() (active, idle, total uint64) {
	return s.activeTicks.Load(), s.idleTicks.Load(), s.totalTicks.Load()
}

// Cores returns a snapshot of every core's current occupancy.
func (s *Scheduler) Cores() []Core {
	out := make([]Core, len(s.cores))
	for i, c := range s.cores {
		c.mu.RLock()
		out[i] = Core{ID: c.id, Busy: c.busy, PID: c.pid, Name: c.name}
		c.mu.RUnlock()
	}
	return out
}

func (c *coreState) setBusy(p *process.Process) {
	c.mu.Lock()
	c.busy = true
	c.pid = p.ID
	c.name = p.Name
	c.mu.Unlock()
}

func (c *coreState) setIdle() {
	c.mu.Lock()
	c.busy = false
	c.pid = -1
	c.name = ""
	c.mu.Unlock()
}

// dequeue waits up to one tick for work. stop reports the worker pool is
// shutting down and the caller must return; otherwise p is nil when the
// tick elapsed without a process becoming available.
func (s *Scheduler) dequeue() (p *process.Process, stop bool) {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if len(s.ready) == 0 && !s.stopWorkers.Load() {
		s.cond.Wait()
	}
	if s.stopWorkers.Load() {
		return nil, true
	}
	if len(s.ready) == 0 {
		return nil, false
	}
	p = s.ready[0]
	s.ready = s.ready[1:]
	return p, false
}

func (s *Scheduler) requeue(p *process.Process) {
	s.readyMu.Lock()
	s.ready = append(s.ready, p)
	s.readyMu.Unlock()
	s.cond.Signal()
}

// worker is the per-core dispatch loop: wait up to one tick for work,
// count the tick as active or idle accordingly, then run the process to
// completion (FCFS) or for one quantum (round robin).
func (s *Scheduler) worker(c *coreState) {
	defer s.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(c.id)))

	for {
		p, stop := s.dequeue()
		s.totalTicks.Add(1)
		if stop {
			return
		}
		if p == nil {
			s.idleTicks.Add(1)
			s.delay()
			continue
		}
		s.activeTicks.Add(1)

		p.SetCoreAssigned(c.id)
		c.setBusy(p)

		switch s.cfg.Scheduler {
		case config.RoundRobin:
			s.runQuantum(p, c.id, rng, s.cfg.QuantumCycles)
		default:
			s.runToCompletion(p, c.id, rng)
		}

		c.setIdle()
		p.SetCoreAssigned(0)

		if p.Done() {
			continue
		}
		s.requeue(p)
	}
}

func (s *Scheduler) delay() {
	if s.cfg.DelayPerExec > 0 {
		time.Sleep(time.Duration(s.cfg.DelayPerExec) * time.Millisecond)
	}
}

func (s *Scheduler) runToCompletion(p *process.Process, coreID int, rng *rand.Rand) {
	for p.CurrentLine < p.TotalLine && !p.Done() && !s.stopWorkers.Load() {
		s.exec.Execute(p, coreID, rng)
		if !p.Done() {
			p.CurrentLine++
		}
		s.instructionsExecuted.Add(1)
		s.delay()
	}
	if !p.Done() && p.CurrentLine >= p.TotalLine {
		p.MarkFinished()
	}
}

func (s *Scheduler) runQuantum(p *process.Process, coreID int, rng *rand.Rand, quantum uint64) {
	var used uint64
	for used < quantum && p.CurrentLine < p.TotalLine && !p.Done() {
		s.exec.Execute(p, coreID, rng)
		if !p.Done() {
			p.CurrentLine++
		}
		used++
		s.instructionsExecuted.Add(1)
		s.delay()
	}
	if !p.Done() && p.CurrentLine >= p.TotalLine {
		p.MarkFinished()
	}
}

// InstructionsExecuted reports the total instruction count run across all
// cores, for vmstats/process-smi.
func (s *Scheduler) InstructionsExecuted() uint64 {
	return s.instructionsExecuted.Load()
}

// StartGenerator launches the auto-generator goroutine, which creates one
// synthetic process every BatchProcessFreq scheduler ticks (100ms per
// tick) and enqueues it. newProcess constructs the process and registers
// it, mirroring the driver's "screen -s" path.
func (s *Scheduler) StartGenerator(newProcess func(name string) *process.Process) {
	if s.genRunning.Swap(true) {
		return
	}
	s.stopGen.Store(false)
	s.genWg.Add(1)
	go func() {
		defer s.genWg.Done()
		defer s.genRunning.Store(false)
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		var elapsed uint64
		for range t.C {
			if s.stopGen.Load() {
				return
			}
			elapsed++
			if elapsed < s.cfg.BatchProcessFreq {
				continue
			}
			elapsed = 0
			var name string
			for {
				name = fmt.Sprintf("process%02d", s.genCounter.Add(1))
				if _, taken := s.registry.LookupByName(name); !taken {
					break
				}
			}
			p := newProcess(name)
			s.Enqueue(p)
			s.log.Info("auto-generated process", "name", name, "pid", p.ID)
		}
	}()
}

// StopGenerator halts the auto-generator, if running.
func (s *Scheduler) StopGenerator() {
	s.stopGen.Store(true)
	s.genWg.Wait()
}
