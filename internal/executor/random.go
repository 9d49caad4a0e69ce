package executor

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
)

// executeRandom generates and immediately runs one synthetic instruction,
// used once a process's custom program (if any) is exhausted. It mirrors
// the reference implementation's instructions_manager random branch, with
// declared-variable tracking kept per-process instead of per-OS-thread
// (see SPEC_FULL.md §3 DeclaredVars).
func (e *Executor) executeRandom(proc *process.Process, coreID int, rng *rand.Rand) {
	if len(proc.DeclaredVars) == 0 {
		e.randomDeclare(proc, coreID, rng)
		return
	}

	switch rng.Intn(7) {
	case 0:
		e.randomPrint(proc, coreID, rng)
	case 1:
		e.randomDeclare(proc, coreID, rng)
	case 2:
		if len(proc.DeclaredVars) < 2 {
			e.randomFor(proc, coreID, rng)
			return
		}
		e.randomArith(proc, coreID, rng, "ADD", satAdd)
	case 3:
		if len(proc.DeclaredVars) < 2 {
			e.randomFor(proc, coreID, rng)
			return
		}
		e.randomArith(proc, coreID, rng, "SUBTRACT", satSub)
	case 4:
		e.execSleep(proc, coreID)
	case 5:
		e.randomRead(proc, coreID, rng)
	case 6:
		e.randomWrite(proc, coreID, rng)
	}
}

func (e *Executor) pickVar(proc *process.Process, rng *rand.Rand) string {
	return proc.DeclaredVars[rng.Intn(len(proc.DeclaredVars))]
}

func (e *Executor) randomDeclare(proc *process.Process, coreID int, rng *rand.Rand) {
	name := fmt.Sprintf("v%d", len(proc.DeclaredVars))
	val := satU16(int64(rng.Intn(100) + 1))

	if !proc.DeclareVar(name) {
		e.commit(proc, "DECLARE ignored", coreID)
		return
	}
	proc.Variables[name] = val

	if err := e.mem.Resolve(proc, 0); err == nil {
		e.mem.AppendFrameData(proc, 0, fmt.Sprintf("(%s %d)", name, val))
	}
	e.commit(proc, fmt.Sprintf("DECLARE %s = %d", name, val), coreID)
}

func (e *Executor) randomPrint(proc *process.Process, coreID int, rng *rand.Rand) {
	name := e.pickVar(proc, rng)
	e.commit(proc, fmt.Sprintf("PRINT %s = %d", name, proc.Variables[name]), coreID)
}

func (e *Executor) randomArith(proc *process.Process, coreID int, rng *rand.Rand, name string, op func(a, b uint16) uint16) {
	a := e.pickVar(proc, rng)
	b := e.pickVar(proc, rng)
	va, vb := proc.Variables[a], proc.Variables[b]
	res := op(va, vb)
	resultVar := fmt.Sprintf("res%d", proc.CurrentLine)
	proc.Variables[resultVar] = res

	sym := "+"
	if name == "SUBTRACT" {
		sym = "-"
	}
	e.commit(proc, fmt.Sprintf("%s %s(%d) %s %s(%d) = %d", name, a, va, sym, b, vb, res), coreID)
}

func (e *Executor) randomAddress(proc *process.Process, rng *rand.Rand) (addr uint64, pageNum int) {
	minAddr := e.mem.MemPerFrame()
	maxAddr := proc.MemorySizeBytes - 1
	if maxAddr < minAddr {
		maxAddr = minAddr
	}
	span := maxAddr - minAddr + 1
	addr = minAddr + uint64(rng.Int63n(int64(span)))
	return addr, proc.PageNumberFor(addr, e.mem.MemPerFrame())
}

func (e *Executor) randomRead(proc *process.Process, coreID int, rng *rand.Rand) {
	name := e.pickVar(proc, rng)
	addr, pageNum := e.randomAddress(proc, rng)
	addrHex := fmt.Sprintf("0x%x", addr)

	loaded := e.mem.Resolve(proc, pageNum) == nil
	val := proc.Variables[addrHex]
	proc.Variables[name] = val

	status := fmt.Sprintf("Page %d not loaded - memory full", pageNum)
	if loaded {
		status = fmt.Sprintf("Page %d loaded", pageNum)
	}
	e.commit(proc, fmt.Sprintf("READ %s = %d from %s (%s)", name, val, addrHex, status), coreID)
}

func (e *Executor) randomWrite(proc *process.Process, coreID int, rng *rand.Rand) {
	addr, pageNum := e.randomAddress(proc, rng)
	addrHex := fmt.Sprintf("0x%x", addr)
	val := satU16(int64(rng.Intn(100) + 1))

	loaded := e.mem.Resolve(proc, pageNum) == nil
	status := fmt.Sprintf("Page %d not loaded - memory full", pageNum)
	if loaded {
		proc.Variables[addrHex] = val
		e.mem.AppendFrameData(proc, pageNum, fmt.Sprintf("(%s %d)", addrHex, val))
		status = fmt.Sprintf("Page %d loaded", pageNum)
	}
	e.commit(proc, fmt.Sprintf("WRITE %s %d (%s)", addrHex, val, status), coreID)
}

func (e *Executor) randomFor(proc *process.Process, coreID int, rng *rand.Rand) {
	if len(proc.DeclaredVars) == 0 {
		name := fmt.Sprintf("v%d", len(proc.DeclaredVars))
		proc.DeclareVar(name)
		proc.Variables[name] = satU16(int64(rng.Intn(100) + 1))
	}
	name := e.pickVar(proc, rng)

	var b strings.Builder
	fmt.Fprintf(&b, "FOR loop on %s: ", name)
	for i := 1; i <= 3; i++ {
		v := satAdd(proc.Variables[name], 1)
		proc.Variables[name] = v
		fmt.Fprintf(&b, "[%d]=%d ", i, v)
	}
	e.commit(proc, b.String(), coreID)
}
