package memory_test

import (
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/memory"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var _ = Describe("Manager.Resolve", func() {
	var (
		reg         *process.Registry
		mgr         *memory.Manager
		backingPath string
	)

	BeforeEach(func() {
		reg = process.NewRegistry()
		backingPath = filepath.Join(GinkgoT().TempDir(), "backing.txt")
		mgr = memory.NewManager(2, 64, backingPath, reg, discardLogger())
	})

	It("resolves a page into a free frame and marks it resident", func() {
		p := process.New(1, "p1", 1, 128, 64)
		reg.Register(p)

		Expect(mgr.Resolve(p, 0)).To(Succeed())
		Expect(p.PageTable[0].InMemory).To(BeTrue())
		Expect(p.PageTable[0].FrameIndex).To(BeNumerically(">=", 0))
		frames := mgr.FrameSnapshot()
		Expect(frames[p.PageTable[0].FrameIndex].OwnerPID).To(Equal(p.ID))
		Expect(frames[p.PageTable[0].FrameIndex].PageNumber).To(Equal(0))
	})

	It("rejects an out-of-range page number", func() {
		p := process.New(1, "p1", 1, 64, 64)
		reg.Register(p)
		Expect(mgr.Resolve(p, 5)).To(MatchError(memory.ErrOutOfRange))
	})

	It("is a no-op when the page is already resident", func() {
		p := process.New(1, "p1", 1, 128, 64)
		reg.Register(p)
		Expect(mgr.Resolve(p, 0)).To(Succeed())
		before := p.PageTable[0].FrameIndex
		Expect(mgr.Resolve(p, 0)).To(Succeed())
		Expect(p.PageTable[0].FrameIndex).To(Equal(before))
	})

	It("evicts the oldest resident page (FIFO) once frames are exhausted", func() {
		p1 := process.New(1, "p1", 1, 64, 64)
		p2 := process.New(2, "p2", 1, 64, 64)
		p3 := process.New(3, "p3", 1, 64, 64)
		reg.Register(p1)
		reg.Register(p2)
		reg.Register(p3)

		Expect(mgr.Resolve(p1, 0)).To(Succeed())
		Expect(mgr.Resolve(p2, 0)).To(Succeed())
		// Both frames now occupied by p1 and p2, in that load order.
		Expect(mgr.Resolve(p3, 0)).To(Succeed())

		// p1's page must have been evicted first (FIFO).
		Expect(p1.PageTable[0].InMemory).To(BeFalse())
		Expect(p1.PageTable[0].FrameIndex).To(Equal(-1))
		Expect(p2.PageTable[0].InMemory).To(BeTrue())
		Expect(p3.PageTable[0].InMemory).To(BeTrue())
		Expect(mgr.PageOuts()).To(Equal(uint64(1)))
	})

	It("persists an evicted page's data to the backing store and restores it on reload", func() {
		mgr = memory.NewManager(1, 64, backingPath, reg, discardLogger())
		p1 := process.New(1, "p1", 1, 64, 64)
		p2 := process.New(2, "p2", 1, 64, 64)
		reg.Register(p1)
		reg.Register(p2)

		Expect(mgr.Resolve(p1, 0)).To(Succeed())
		mgr.AppendFrameData(p1, 0, "(x 5)")

		Expect(mgr.Resolve(p2, 0)).To(Succeed())
		// Frame table has one slot; p2's load evicts p1's only resident page.
		Expect(mgr.BackingStoreLen()).To(Equal(1))

		reloaded, err := memory.Reload(backingPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded).To(HaveLen(1))
		Expect(reloaded[memory.Key{PID: 1, Page: 0}]).To(Equal("(x 5)"))

		// Bringing p1 back in must restore the same data and clear it from
		// the backing store (disjointness between frame contents and
		// backing-store contents). With the single frame taken by p2, the
		// reload evicts p2, so the store then holds only p2's page.
		Expect(mgr.Resolve(p1, 0)).To(Succeed())
		Expect(mgr.BackingStoreLen()).To(Equal(1))
		afterReload, err := memory.Reload(backingPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(afterReload).To(Equal(map[memory.Key]string{{PID: 2, Page: 0}: ""}))
		frame := mgr.FrameSnapshot()[p1.PageTable[0].FrameIndex]
		Expect(frame.Data).To(Equal("(x 5)"))
	})

	It("evicts through the FIFO path instead of failing when the only frame is full", func() {
		mgr1 := memory.NewManager(1, 64, filepath.Join(GinkgoT().TempDir(), "b.txt"), reg, discardLogger())
		p := process.New(1, "p1", 1, 64, 64)
		reg.Register(p)
		Expect(mgr1.Resolve(p, 0)).To(Succeed())
		// The single frame is now occupied by p and queued as a victim, so
		// a further resolve for a distinct page just evicts it -- confirm
		// eviction takes the FIFO path rather than failing.
		p2 := process.New(2, "p2", 1, 64, 64)
		reg.Register(p2)
		Expect(mgr1.Resolve(p2, 0)).To(Succeed())
	})
})

var _ = Describe("BackingStore round trip", func() {
	It("persists and reloads exactly what was set", func() {
		path := filepath.Join(GinkgoT().TempDir(), "bs.txt")
		bs := memory.NewBackingStore(path, discardLogger())
		bs.Set(memory.Key{PID: 1, Page: 0}, `data with "quotes" inside`)
		bs.Set(memory.Key{PID: 2, Page: 3}, "plain")
		Expect(bs.Persist()).To(Succeed())

		reloaded, err := memory.Reload(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded).To(HaveLen(2))
		Expect(reloaded[memory.Key{PID: 1, Page: 0}]).To(Equal(`data with "quotes" inside`))
		Expect(reloaded[memory.Key{PID: 2, Page: 3}]).To(Equal("plain"))
	})
})

var _ = Describe("VictimQueue", func() {
	It("is FIFO and deduplicates", func() {
		q := memory.NewVictimQueue()
		k1 := memory.Key{PID: 1, Page: 0}
		k2 := memory.Key{PID: 2, Page: 0}
		q.PushBack(k1)
		q.PushBack(k2)
		q.PushBack(k1) // duplicate, no-op

		Expect(q.Len()).To(Equal(2))
		first, ok := q.PopFront()
		Expect(ok).To(BeTrue())
		Expect(first).To(Equal(k1))
	})
})
