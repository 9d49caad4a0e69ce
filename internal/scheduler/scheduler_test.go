package scheduler_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/config"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/executor"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/memory"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHarness(numCPU int, policy config.Policy, quantum uint64) (*scheduler.Scheduler, *process.Registry) {
	reg := process.NewRegistry()
	mgr := memory.NewManager(4, 64, filepath.Join(GinkgoT().TempDir(), "backing.txt"), reg, discardLogger())
	exec := executor.New(mgr, discardLogger())
	cfg := &config.Config{
		NumCPU:        numCPU,
		Scheduler:     policy,
		QuantumCycles: quantum,
		MemPerFrame:   64,
	}
	return scheduler.New(cfg, reg, exec, discardLogger()), reg
}

var _ = Describe("FCFS", func() {
	It("runs a process to completion on a single core", func() {
		sched, reg := newHarness(1, config.FCFS, 0)
		sched.Start()
		defer sched.Stop()

		p := process.NewWithProgram(reg.NextPID(), "p1", 64, 64, []string{"DECLARE x 1", "DECLARE y 2"})
		reg.Register(p)
		sched.Enqueue(p)

		Eventually(p.Done, time.Second, 5*time.Millisecond).Should(BeTrue())
		Expect(p.Finished()).To(BeTrue())
		Expect(p.CurrentLine).To(Equal(p.TotalLine))
	})

	It("runs two processes serially on a single core", func() {
		sched, reg := newHarness(1, config.FCFS, 0)
		sched.Start()
		defer sched.Stop()

		p1 := process.NewWithProgram(reg.NextPID(), "p1", 64, 64, []string{"DECLARE x 1"})
		p2 := process.NewWithProgram(reg.NextPID(), "p2", 64, 64, []string{"DECLARE y 1"})
		reg.Register(p1)
		reg.Register(p2)
		sched.Enqueue(p1)
		sched.Enqueue(p2)

		Eventually(p1.Done, time.Second, 5*time.Millisecond).Should(BeTrue())
		Eventually(p2.Done, time.Second, 5*time.Millisecond).Should(BeTrue())
	})
})

var _ = Describe("Round robin", func() {
	It("re-enqueues a process that exceeds its quantum and eventually finishes it", func() {
		sched, reg := newHarness(1, config.RoundRobin, 1)
		sched.Start()
		defer sched.Stop()

		program := []string{"DECLARE a 1", "DECLARE b 2", "DECLARE c 3", "DECLARE d 4"}
		p := process.NewWithProgram(reg.NextPID(), "p1", 64, 64, program)
		reg.Register(p)
		sched.Enqueue(p)

		Eventually(p.Done, time.Second, 5*time.Millisecond).Should(BeTrue())
		Expect(p.CurrentLine).To(Equal(uint64(4)))
	})
})

var _ = Describe("Cores", func() {
	It("reports idle cores when the ready queue is empty", func() {
		sched, _ := newHarness(2, config.FCFS, 0)
		sched.Start()
		defer sched.Stop()

		Eventually(func() int {
			busy := 0
			for _, c := range sched.Cores() {
				if c.Busy {
					busy++
				}
			}
			return busy
		}, time.Second, 5*time.Millisecond).Should(Equal(0))
	})
})
