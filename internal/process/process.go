// Package process defines the simulator's process model: identity, page
// table, variable store, instruction log, and lifecycle flags, plus a
// registry shared by the scheduler and the memory manager.
package process

import (
	"sync"
	"time"
)

// PageTableEntry maps one virtual page to its resident frame, if any.
// Invariant: InMemory <=> FrameIndex >= 0.
type PageTableEntry struct {
	InMemory   bool
	FrameIndex int // -1 when not resident
}

const maxDeclaredVars = 32

// Process is a single simulated program: its variable store, its flat
// virtual address space (represented by a page table), its instruction
// log, and the lifecycle flags the scheduler and executor observe.
//
// Only the worker that currently owns a process may mutate CurrentLine,
// Variables, Instructions, or DeclaredVars. CoreAssigned, Finished,
// Shutdown and their timestamps are read by the stats/REPL goroutine
// concurrently with the owning worker's writes, so they live behind mu.
type Process struct {
	ID              int
	Name            string
	CreatedAt       time.Time
	CurrentLine     uint64
	TotalLine       uint64
	Instructions    []string
	Variables       map[string]uint16
	MemorySizeBytes uint64
	PageTable       []PageTableEntry
	CustomProgram   []string
	DeclaredVars    []string

	mu             sync.RWMutex
	coreAssigned   int // 0 means unassigned; cores are numbered from 1
	finished       bool
	finishedAt     time.Time
	shutdown       bool
	shutdownReason string
	shutdownAt     time.Time
}

// New builds a process with a page table sized for memorySizeBytes and no
// custom program: every line will be produced by the random generator.
func New(id int, name string, totalLine, memorySizeBytes, memPerFrame uint64) *Process {
	return newProcess(id, name, totalLine, memorySizeBytes, memPerFrame, nil)
}

// NewWithProgram builds a process whose first len(program) lines execute
// the given validated instructions verbatim; further lines fall back to
// the random generator.
func NewWithProgram(id int, name string, memorySizeBytes, memPerFrame uint64, program []string) *Process {
	totalLine := uint64(len(program))
	if totalLine == 0 {
		totalLine = 1
	}
	return newProcess(id, name, totalLine, memorySizeBytes, memPerFrame, program)
}

func newProcess(id int, name string, totalLine, memorySizeBytes, memPerFrame uint64, program []string) *Process {
	pageCount := memorySizeBytes / memPerFrame
	table := make([]PageTableEntry, pageCount)
	for i := range table {
		table[i].FrameIndex = -1
	}
	return &Process{
		ID:              id,
		Name:            name,
		CreatedAt:       time.Now(),
		TotalLine:       totalLine,
		Instructions:    make([]string, totalLine),
		Variables:       make(map[string]uint16),
		MemorySizeBytes: memorySizeBytes,
		PageTable:       table,
		CustomProgram:   program,
	}
}

// PageNumberFor translates a virtual address into a page number, clamped
// to the last valid page.
func (p *Process) PageNumberFor(addr, memPerFrame uint64) int {
	pn := addr / memPerFrame
	if last := uint64(len(p.PageTable)) - 1; pn > last {
		pn = last
	}
	return int(pn)
}

// DeclareVar records a new declared variable name, subject to the 32-name
// cap. Returns false when the cap has already been reached.
func (p *Process) DeclareVar(name string) bool {
	if len(p.DeclaredVars) >= maxDeclaredVars {
		return false
	}
	p.DeclaredVars = append(p.DeclaredVars, name)
	return true
}

// SetCoreAssigned records which core is currently running this process (0
// clears the assignment).
func (p *Process) SetCoreAssigned(core int) {
	p.mu.Lock()
	p.coreAssigned = core
	p.mu.Unlock()
}

// CoreAssigned reports the core currently running this process, or 0.
func (p *Process) CoreAssigned() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.coreAssigned
}

// MarkFinished flags normal completion.
func (p *Process) MarkFinished() {
	p.mu.Lock()
	p.finished = true
	p.finishedAt = time.Now()
	p.mu.Unlock()
}

// Finished reports whether the process ran to completion.
func (p *Process) Finished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.finished
}

// FinishedAt reports the completion timestamp, valid only if Finished().
func (p *Process) FinishedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.finishedAt
}

// MarkShutdown flags a fatal memory-access violation; the process never
// executes again.
func (p *Process) MarkShutdown(reason string) {
	p.mu.Lock()
	p.shutdown = true
	p.shutdownReason = reason
	p.shutdownAt = time.Now()
	p.mu.Unlock()
}

// Shutdown reports whether the process was terminated by a violation.
func (p *Process) Shutdown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shutdown
}

// ShutdownInfo reports the reason and timestamp recorded by MarkShutdown.
func (p *Process) ShutdownInfo() (string, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shutdownReason, p.shutdownAt
}

// Done reports whether the process should never be scheduled again.
func (p *Process) Done() bool {
	return p.Finished() || p.Shutdown()
}
