package executor_test

import (
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/executor"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/memory"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestExecutor() (*executor.Executor, *process.Registry) {
	reg := process.NewRegistry()
	mgr := memory.NewManager(4, 64, filepath.Join(GinkgoT().TempDir(), "backing.txt"), reg, discardLogger())
	return executor.New(mgr, discardLogger()), reg
}

var _ = Describe("Execute on a custom program", func() {
	It("runs DECLARE, ADD and PRINT in sequence", func() {
		exec, reg := newTestExecutor()
		program := []string{
			"DECLARE x 5",
			"DECLARE y 10",
			"ADD z x y",
			`PRINT("Result: " + z)`,
		}
		p := process.NewWithProgram(1, "p1", 128, 64, program)
		reg.Register(p)
		rng := rand.New(rand.NewSource(1))

		for p.CurrentLine < p.TotalLine {
			exec.Execute(p, 1, rng)
			p.CurrentLine++
		}

		Expect(p.Variables["x"]).To(Equal(uint16(5)))
		Expect(p.Variables["y"]).To(Equal(uint16(10)))
		Expect(p.Variables["z"]).To(Equal(uint16(15)))
		Expect(p.Instructions[3]).To(ContainSubstring("PRINT"))
	})

	It("saturates ADD at 65535 instead of overflowing", func() {
		exec, reg := newTestExecutor()
		program := []string{"DECLARE x 65000", "DECLARE y 1000", "ADD z x y"}
		p := process.NewWithProgram(1, "p1", 64, 64, program)
		reg.Register(p)
		rng := rand.New(rand.NewSource(1))
		for p.CurrentLine < p.TotalLine {
			exec.Execute(p, 1, rng)
			p.CurrentLine++
		}
		Expect(p.Variables["z"]).To(Equal(uint16(65535)))
	})

	It("floors SUBTRACT at zero instead of underflowing", func() {
		exec, reg := newTestExecutor()
		program := []string{"DECLARE x 5", "DECLARE y 10", "SUBTRACT z x y"}
		p := process.NewWithProgram(1, "p1", 64, 64, program)
		reg.Register(p)
		rng := rand.New(rand.NewSource(1))
		for p.CurrentLine < p.TotalLine {
			exec.Execute(p, 1, rng)
			p.CurrentLine++
		}
		Expect(p.Variables["z"]).To(Equal(uint16(0)))
	})

	It("writes and reads back a value within bounds", func() {
		exec, reg := newTestExecutor()
		program := []string{"WRITE 0x40 7", "READ back 0x40"}
		p := process.NewWithProgram(1, "p1", 128, 64, program)
		reg.Register(p)
		rng := rand.New(rand.NewSource(1))
		for p.CurrentLine < p.TotalLine {
			exec.Execute(p, 1, rng)
			p.CurrentLine++
		}
		Expect(p.Variables["back"]).To(Equal(uint16(7)))
	})

	It("shuts the process down on an out-of-bounds WRITE", func() {
		exec, reg := newTestExecutor()
		program := []string{"WRITE 0x0 1"}
		p := process.NewWithProgram(1, "p1", 128, 64, program)
		reg.Register(p)
		rng := rand.New(rand.NewSource(1))
		exec.Execute(p, 1, rng)
		Expect(p.Shutdown()).To(BeTrue())
		reason, _ := p.ShutdownInfo()
		Expect(reason).To(ContainSubstring("violation"))
	})

	It("does nothing once the process is shut down", func() {
		exec, reg := newTestExecutor()
		program := []string{"WRITE 0x0 1", "DECLARE x 1"}
		p := process.NewWithProgram(1, "p1", 128, 64, program)
		reg.Register(p)
		rng := rand.New(rand.NewSource(1))
		exec.Execute(p, 1, rng)
		p.CurrentLine++
		exec.Execute(p, 1, rng)
		Expect(p.Variables).NotTo(HaveKey("x"))
	})
})

var _ = Describe("Execute past the end of a custom program", func() {
	It("generates and runs a random instruction without panicking", func() {
		exec, reg := newTestExecutor()
		p := process.New(1, "p1", 5, 128, 64)
		reg.Register(p)
		rng := rand.New(rand.NewSource(2))

		for i := 0; i < 5; i++ {
			exec.Execute(p, 1, rng)
			p.CurrentLine++
		}
		Expect(p.DeclaredVars).NotTo(BeEmpty())
	})
})
