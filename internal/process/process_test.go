package process_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
)

var _ = Describe("Process", func() {
	It("sizes its page table from memory size and frame size", func() {
		p := process.New(1, "p1", 10, 256, 64)
		Expect(p.PageTable).To(HaveLen(4))
		for _, e := range p.PageTable {
			Expect(e.InMemory).To(BeFalse())
			Expect(e.FrameIndex).To(Equal(-1))
		}
	})

	It("clamps addresses to the last valid page", func() {
		p := process.New(1, "p1", 10, 256, 64)
		Expect(p.PageNumberFor(0, 64)).To(Equal(0))
		Expect(p.PageNumberFor(200, 64)).To(Equal(3))
		Expect(p.PageNumberFor(9999, 64)).To(Equal(3))
	})

	It("enforces the declared-variable cap", func() {
		p := process.New(1, "p1", 10, 256, 64)
		for i := 0; i < 32; i++ {
			Expect(p.DeclareVar("v")).To(BeTrue())
		}
		Expect(p.DeclareVar("overflow")).To(BeFalse())
		Expect(p.DeclaredVars).To(HaveLen(32))
	})

	It("reports Done only after Finished or Shutdown", func() {
		p := process.New(1, "p1", 10, 256, 64)
		Expect(p.Done()).To(BeFalse())
		p.MarkFinished()
		Expect(p.Done()).To(BeTrue())
		Expect(p.Finished()).To(BeTrue())
	})

	It("records shutdown reason and timestamp", func() {
		p := process.New(1, "p1", 10, 256, 64)
		p.MarkShutdown("Memory access violation at 0x10")
		reason, at := p.ShutdownInfo()
		Expect(reason).To(ContainSubstring("0x10"))
		Expect(at).NotTo(BeZero())
		Expect(p.Done()).To(BeTrue())
	})

	It("builds a custom program with a page table sized off the given memory", func() {
		p := process.NewWithProgram(1, "p1", 128, 64, []string{"DECLARE x 1", "PRINT(\"Result: \" + x)"})
		Expect(p.TotalLine).To(Equal(uint64(2)))
		Expect(p.PageTable).To(HaveLen(2))
		Expect(p.CustomProgram).To(HaveLen(2))
	})
})

var _ = Describe("Registry", func() {
	It("allocates increasing PIDs starting at 1", func() {
		r := process.NewRegistry()
		Expect(r.NextPID()).To(Equal(1))
		Expect(r.NextPID()).To(Equal(2))
	})

	It("refuses to register a duplicate name", func() {
		r := process.NewRegistry()
		p1 := process.New(1, "dup", 1, 64, 64)
		p2 := process.New(2, "dup", 1, 64, 64)
		Expect(r.Register(p1)).To(BeTrue())
		Expect(r.Register(p2)).To(BeFalse())
	})

	It("looks processes up by id and name", func() {
		r := process.NewRegistry()
		p := process.New(7, "seven", 1, 64, 64)
		r.Register(p)

		got, ok := r.Lookup(7)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(p))

		got2, ok2 := r.LookupByName("seven")
		Expect(ok2).To(BeTrue())
		Expect(got2).To(BeIdenticalTo(p))
	})

	It("clears state and rewinds PIDs on Reset", func() {
		r := process.NewRegistry()
		r.Register(process.New(r.NextPID(), "a", 1, 64, 64))
		r.Reset()
		Expect(r.List()).To(BeEmpty())
		Expect(r.NextPID()).To(Equal(1))
	})
})
