package executor

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/memory"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
)

const timestampLayout = "01/02/2006 03:04:05PM"

// MemoryAccessViolation reports an out-of-bounds READ/WRITE. It is
// per-process fatal (the process transitions to shutdown) but does not
// affect the rest of the system.
type MemoryAccessViolation struct {
	Address string
}

func (e *MemoryAccessViolation) Error() string {
	return fmt.Sprintf("Memory access violation at %s", e.Address)
}

// Executor interprets one instruction per Execute call against a process's
// state, resolving pages through the shared memory manager.
type Executor struct {
	mem *memory.Manager
	log *slog.Logger
}

// New builds an Executor bound to the shared memory manager.
func New(mem *memory.Manager, log *slog.Logger) *Executor {
	return &Executor{mem: mem, log: log}
}

// Execute runs exactly the instruction at proc.CurrentLine: either the
// next clause of its custom program, or a freshly-generated random
// instruction once the custom program is exhausted. It never advances
// CurrentLine; the scheduler owns that. A no-op if the process is already
// shut down.
func (e *Executor) Execute(proc *process.Process, coreID int, rng *rand.Rand) {
	if proc.Shutdown() {
		return
	}

	line := proc.CurrentLine
	var instr Instruction
	if line < uint64(len(proc.CustomProgram)) {
		parsed, err := Parse(proc.CustomProgram[line])
		if err != nil {
			// Unreachable for a program that passed ValidateProgram, but
			// keep the process alive rather than panicking on an
			// executor/validator mismatch.
			e.log.Error("custom program clause failed to parse post-validation", "pid", proc.ID, "line", line, "error", err)
			return
		}
		instr = parsed
		e.dispatch(proc, coreID, instr)
		return
	}

	e.executeRandom(proc, coreID, rng)
}

func (e *Executor) prefix(coreID int) string {
	return fmt.Sprintf("(%s) Core: %d ", time.Now().Format(timestampLayout), coreID)
}

func (e *Executor) commit(proc *process.Process, body string, coreID int) {
	line := proc.CurrentLine
	if line >= uint64(len(proc.Instructions)) {
		grown := make([]string, line+1)
		copy(grown, proc.Instructions)
		proc.Instructions = grown
	}
	proc.Instructions[line] = e.prefix(coreID) + strconv.Quote(body)
}

func (e *Executor) dispatch(proc *process.Process, coreID int, instr Instruction) {
	switch instr.Kind {
	case KindDeclare:
		e.execDeclare(proc, coreID, instr.Args[0], instr.Args[1])
	case KindAdd:
		e.execArith(proc, coreID, "ADD", instr.Args[0], instr.Args[1], instr.Args[2], satAdd)
	case KindSubtract:
		e.execArith(proc, coreID, "SUBTRACT", instr.Args[0], instr.Args[1], instr.Args[2], satSub)
	case KindPrint:
		e.execPrint(proc, coreID, instr.Args[0])
	case KindWrite:
		e.execWrite(proc, coreID, instr.Args[0], instr.Args[1])
	case KindRead:
		e.execRead(proc, coreID, instr.Args[0], instr.Args[1])
	case KindSleep:
		e.execSleep(proc, coreID)
	case KindFor:
		e.execFor(proc, coreID, instr.Args[0])
	}
}

func (e *Executor) execDeclare(proc *process.Process, coreID int, name, valStr string) {
	val, _ := strconv.Atoi(valStr)
	u := satU16(int64(val))
	proc.Variables[name] = u
	proc.DeclareVar(name)

	if err := e.mem.Resolve(proc, 0); err == nil {
		e.mem.AppendFrameData(proc, 0, fmt.Sprintf("(%s %d)", name, u))
	}
	e.commit(proc, fmt.Sprintf("DECLARE %s = %d", name, u), coreID)
}

func (e *Executor) execArith(proc *process.Process, coreID int, name, dst, a, b string, op func(x, y uint16) uint16) {
	va := proc.Variables[a]
	vb := proc.Variables[b]
	res := op(va, vb)
	proc.Variables[dst] = res
	sym := "+"
	if name == "SUBTRACT" {
		sym = "-"
	}
	e.commit(proc, fmt.Sprintf("%s %s(%d) %s %s(%d) = %d", name, a, va, sym, b, vb, res), coreID)
}

func (e *Executor) execPrint(proc *process.Process, coreID int, name string) {
	e.commit(proc, fmt.Sprintf(`PRINT("Result: " + %s) = %d`, name, proc.Variables[name]), coreID)
}

func (e *Executor) execWrite(proc *process.Process, coreID int, addrHex, tok string) {
	addr, _ := strconv.ParseUint(strings.TrimPrefix(addrHex, "0x"), 16, 64)
	if addr < e.mem.MemPerFrame() || addr >= proc.MemorySizeBytes {
		e.violate(proc, coreID, addrHex)
		return
	}

	var val uint16
	if n, err := strconv.Atoi(tok); err == nil {
		val = satU16(int64(n))
	} else {
		val = proc.Variables[tok]
	}

	pageNum := proc.PageNumberFor(addr, e.mem.MemPerFrame())
	loaded := e.mem.Resolve(proc, pageNum) == nil
	if loaded {
		e.mem.AppendFrameData(proc, pageNum, fmt.Sprintf("(%s %d)", addrHex, val))
	}
	proc.Variables[addrHex] = val
	e.commit(proc, fmt.Sprintf("WRITE %s %d", addrHex, val), coreID)
}

func (e *Executor) execRead(proc *process.Process, coreID int, name, addrHex string) {
	addr, _ := strconv.ParseUint(strings.TrimPrefix(addrHex, "0x"), 16, 64)
	if addr < e.mem.MemPerFrame() || addr >= proc.MemorySizeBytes {
		e.violate(proc, coreID, addrHex)
		return
	}

	pageNum := proc.PageNumberFor(addr, e.mem.MemPerFrame())
	loaded := e.mem.Resolve(proc, pageNum) == nil
	val := proc.Variables[addrHex]
	proc.Variables[name] = val

	status := "not loaded"
	if loaded {
		status = "loaded"
	}
	e.commit(proc, fmt.Sprintf("READ %s = %d from %s (%s)", name, val, addrHex, status), coreID)
}

func (e *Executor) execSleep(proc *process.Process, coreID int) {
	time.Sleep(100 * time.Millisecond)
	e.commit(proc, "SLEPT for 100ms", coreID)
}

func (e *Executor) execFor(proc *process.Process, coreID int, name string) {
	var b strings.Builder
	fmt.Fprintf(&b, "FOR loop on %s: ", name)
	for i := 1; i <= 3; i++ {
		v := satAdd(proc.Variables[name], 1)
		proc.Variables[name] = v
		fmt.Fprintf(&b, "[%d]=%d ", i, v)
	}
	e.commit(proc, b.String(), coreID)
}

func (e *Executor) violate(proc *process.Process, coreID int, addrHex string) {
	err := &MemoryAccessViolation{Address: addrHex}
	proc.MarkShutdown(err.Error())
	e.commit(proc, err.Error(), coreID)
}

func satU16(v int64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}

func satAdd(a, b uint16) uint16 {
	return satU16(int64(a) + int64(b))
}

func satSub(a, b uint16) uint16 {
	if int64(a)-int64(b) < 0 {
		return 0
	}
	return satU16(int64(a) - int64(b))
}
