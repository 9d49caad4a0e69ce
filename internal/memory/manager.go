package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
)

// ErrOutOfRange is returned by Resolve when the requested page number
// falls outside the process's page table.
var ErrOutOfRange = errors.New("memory: page number out of range")

// ResolveFailure is returned when no free frame exists and the victim
// queue is empty -- only reachable on a misconfigured or already-corrupt
// system. It is non-fatal: the caller records "not loaded" and continues.
type ResolveFailure struct {
	PID  int
	Page int
}

func (e *ResolveFailure) Error() string {
	return fmt.Sprintf("memory: no frame and no victim available for pid=%d page=%d", e.PID, e.Page)
}

// Manager owns the physical frame table, the backing store, and the
// victim queue, and serialises every mutation to them under a single
// lock so a page-in and its eviction never interleave with another
// resolve.
type Manager struct {
	mu       sync.Mutex
	frames   []Frame
	backing  *BackingStore
	victims  *VictimQueue
	registry *process.Registry
	log      *slog.Logger

	memPerFrame uint64

	pageIns  atomic.Uint64
	pageOuts atomic.Uint64
}

// NewManager allocates numFrames free frames and wires the manager to the
// shared process registry (needed to locate a victim's owning process)
// and a backing-store file path.
func NewManager(numFrames uint64, memPerFrame uint64, backingPath string, registry *process.Registry, log *slog.Logger) *Manager {
	frames := make([]Frame, numFrames)
	for i := range frames {
		frames[i] = freeFrame()
	}
	return &Manager{
		frames:      frames,
		backing:     NewBackingStore(backingPath, log),
		victims:     NewVictimQueue(),
		registry:    registry,
		log:         log,
		memPerFrame: memPerFrame,
	}
}

// MemPerFrame reports the configured frame size.
func (m *Manager) MemPerFrame() uint64 { return m.memPerFrame }

// PageIns reports the monotonically increasing count of page loads.
func (m *Manager) PageIns() uint64 { return m.pageIns.Load() }

// PageOuts reports the monotonically increasing count of page evictions.
func (m *Manager) PageOuts() uint64 { return m.pageOuts.Load() }

// NumFrames reports the size of the physical frame table.
func (m *Manager) NumFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// UsedFrames reports how many frames are currently occupied.
func (m *Manager) UsedFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := 0
	for _, f := range m.frames {
		if f.OwnerPID != -1 {
			used++
		}
	}
	return used
}

// FrameSnapshot returns a copy of the frame table for observability
// commands, taken under the memory lock.
func (m *Manager) FrameSnapshot() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

// BackingStoreLen reports how many pages currently live on the backing
// store, used by observability commands.
func (m *Manager) BackingStoreLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backing.Len()
}

// Resolve ensures the given page of proc is resident in a physical frame,
// loading it from the backing store or evicting a FIFO victim as needed.
// After a nil return, entry.InMemory is true and the victim queue
// contains (proc.ID, pageNumber) exactly once.
func (m *Manager) Resolve(proc *process.Process, pageNumber int) error {
	if pageNumber < 0 || pageNumber >= len(proc.PageTable) {
		return ErrOutOfRange
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &proc.PageTable[pageNumber]
	if entry.InMemory {
		return nil
	}

	// Look for a free frame first.
	for i := range m.frames {
		if m.frames[i].OwnerPID == -1 {
			m.claimFrame(i, proc, pageNumber, entry)
			return nil
		}
	}

	// No free frame: evict the oldest resident page.
	victimKey, ok := m.victims.PopFront()
	if !ok {
		m.log.Error("resolve failed: no free frame and no victim", "pid", proc.ID, "page", pageNumber)
		return &ResolveFailure{PID: proc.ID, Page: pageNumber}
	}

	victimProc, ok := m.registry.Lookup(victimKey.PID)
	if !ok {
		m.log.Error("victim process not found in registry", "pid", victimKey.PID)
		return &ResolveFailure{PID: proc.ID, Page: pageNumber}
	}
	victimEntry := &victimProc.PageTable[victimKey.Page]
	frameIdx := victimEntry.FrameIndex

	m.backing.Set(victimKey, m.frames[frameIdx].Data)
	m.pageOuts.Add(1)
	if err := m.backing.Persist(); err != nil {
		m.log.Error("backing store persistence failed on page-out", "error", err)
	}

	victimEntry.InMemory = false
	victimEntry.FrameIndex = -1

	m.claimFrame(frameIdx, proc, pageNumber, entry)
	return nil
}

// claimFrame assigns frame i to (proc, pageNumber), restoring backing
// store contents if any, and must be called with mu held.
func (m *Manager) claimFrame(i int, proc *process.Process, pageNumber int, entry *process.PageTableEntry) {
	key := Key{PID: proc.ID, Page: pageNumber}

	m.frames[i].OwnerPID = proc.ID
	m.frames[i].PageNumber = pageNumber

	if data, ok := m.backing.Get(key); ok {
		m.frames[i].Data = data
		m.backing.Delete(key)
		if err := m.backing.Persist(); err != nil {
			m.log.Error("backing store persistence failed on restore", "error", err)
		}
	} else {
		m.frames[i].Data = ""
	}

	entry.InMemory = true
	entry.FrameIndex = i

	m.pageIns.Add(1)
	m.victims.PushBack(key)
}

// AppendFrameData appends a token to the data accumulated in the frame
// backing pageNumber of proc, used by DECLARE/WRITE to record their
// effect. The page must already be resident.
func (m *Manager) AppendFrameData(proc *process.Process, pageNumber int, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := proc.PageTable[pageNumber]
	if !entry.InMemory {
		return
	}
	m.frames[entry.FrameIndex].Data += token
}

// Reset reallocates the frame table to numFrames fresh frames, clears the
// backing store and victim queue, and rebinds the manager to the given
// registry and logger, used during a clean re-initialisation of the whole
// system instead of discarding the manager outright.
func (m *Manager) Reset(numFrames uint64, memPerFrame uint64, backingPath string, registry *process.Registry, log *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := make([]Frame, numFrames)
	for i := range frames {
		frames[i] = freeFrame()
	}
	m.frames = frames
	m.memPerFrame = memPerFrame
	m.backing = NewBackingStore(backingPath, log)
	m.victims = NewVictimQueue()
	m.registry = registry
	m.log = log
	m.pageIns.Store(0)
	m.pageOuts.Store(0)
}
