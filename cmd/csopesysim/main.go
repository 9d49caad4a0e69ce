// Command csopesysim runs the interactive command line for the CPU
// scheduler / demand-paging simulator, mirroring the reference tool's
// initialize/screen/scheduler/report command vocabulary.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/introspect"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/process"
	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/sim"
)

func main() {
	introspectAddr := flag.String("introspect-addr", "", "address to serve /health and /vmstats on (disabled if empty)")
	flag.Parse()

	s := sim.New()

	if *introspectAddr != "" {
		srv := introspect.New(*introspectAddr, s, slog.Default())
		go func() {
			if err := srv.Start(); err != nil {
				slog.Error("introspection server stopped", "error", err)
			}
		}()
	}

	repl(s)
}

func repl(s *sim.Simulator) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("CSOPESY command line. Type 'initialize <config-path>' to begin.")

	for {
		fmt.Print("Enter a command: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]

		switch {
		case cmd == "initialize":
			handleInitialize(s, fields)
		case cmd == "screen":
			if !s.Initialized() {
				fmt.Println("Please initialize first.")
				continue
			}
			handleScreen(s, scanner, fields)
		case cmd == "scheduler-start":
			if err := s.StartScheduler(); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Scheduler is running!")
		case cmd == "scheduler-stop":
			if err := s.StopScheduler(); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Scheduler stopped.")
		case cmd == "report-util":
			handleReportUtil(s)
		case cmd == "process-smi":
			handleProcessSMI(s)
		case cmd == "vmstats":
			handleVMStats(s)
		case cmd == "clear":
			fmt.Print("\033[H\033[2J")
		case cmd == "exit":
			s.Shutdown()
			fmt.Println("Exiting CSOPESY command line.")
			return
		default:
			fmt.Println("Unknown command.")
		}
	}
}

func handleInitialize(s *sim.Simulator, fields []string) {
	path := "config.txt"
	if len(fields) > 1 {
		path = fields[1]
	}
	if err := s.Initialize(path); err != nil {
		fmt.Println("Failed to load system configuration:", err)
		return
	}
	cfg := s.Config()
	fmt.Println("\nSystem configuration loaded successfully:")
	fmt.Println("--------------------------------------------")
	fmt.Printf("- num-cpu:            %d\n", cfg.NumCPU)
	fmt.Printf("- scheduler:          %s\n", cfg.Scheduler)
	fmt.Printf("- quantum-cycles:     %d\n", cfg.QuantumCycles)
	fmt.Printf("- batch-process-freq: %d\n", cfg.BatchProcessFreq)
	fmt.Printf("- min-ins:            %d\n", cfg.MinIns)
	fmt.Printf("- max-ins:            %d\n", cfg.MaxIns)
	fmt.Printf("- delay-per-exec:     %d\n", cfg.DelayPerExec)
	fmt.Printf("- max-overall-mem:    %d\n", cfg.MaxOverallMem)
	fmt.Printf("- mem-per-frame:      %d\n", cfg.MemPerFrame)
	fmt.Printf("- min-mem-per-proc:   %d\n", cfg.MinMemPerProc)
	fmt.Printf("- max-mem-per-proc:   %d\n", cfg.MaxMemPerProc)
	fmt.Printf("Initialized physical memory with %d frames.\n", cfg.NumFrames())
	fmt.Println("--------------------------------------------")
}

func handleScreen(s *sim.Simulator, scanner *bufio.Scanner, fields []string) {
	if len(fields) < 2 {
		fmt.Println("[screen] Invalid usage.")
		return
	}
	switch fields[1] {
	case "-ls":
		handleScreenLS(s)
	case "-s":
		if len(fields) < 3 {
			fmt.Println("[screen] Invalid usage.")
			return
		}
		name := fields[2]
		p, err := s.CreateProcess(name)
		if err != nil {
			fmt.Println(err)
			return
		}
		attachSession(s, scanner, p)
	case "-r":
		if len(fields) < 3 {
			fmt.Println("[screen] Invalid usage.")
			return
		}
		p, err := s.AttachProcess(fields[2])
		if err != nil {
			fmt.Println(err)
			return
		}
		attachSession(s, scanner, p)
	case "-c":
		handleScreenCustom(s, scanner, fields)
	default:
		fmt.Println("[screen] Invalid usage.")
	}
}

func handleScreenCustom(s *sim.Simulator, scanner *bufio.Scanner, fields []string) {
	if len(fields) < 4 {
		fmt.Println("[screen] Invalid usage.")
		return
	}
	name := fields[2]
	memSize, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		fmt.Println("Error: invalid memory size.")
		return
	}
	raw := strings.TrimSpace(strings.TrimPrefix(strings.Join(fields[4:], " "), "\""))
	raw = strings.TrimSuffix(raw, "\"")

	p, err := s.CreateCustomProcess(name, memSize, raw)
	if err != nil {
		fmt.Println("Error:", err)
		fmt.Println("Allowed forms:")
		fmt.Println("  DECLARE <var> <value>")
		fmt.Println("  ADD <v1> <v2> <v3>")
		fmt.Println("  SUBTRACT <v1> <v2> <v3>")
		fmt.Println(`  PRINT("Result: " + <var>)`)
		fmt.Println("  WRITE <0xHEXADDR> <value>")
		fmt.Println("  READ <var> <0xHEXADDR>")
		return
	}
	attachSession(s, scanner, p)
}

func handleScreenLS(s *sim.Simulator) {
	list, err := s.ListProcesses()
	if err != nil {
		fmt.Println(err)
		return
	}
	stats, _ := s.Stats()
	fmt.Println("-----------------------------")
	fmt.Printf("CPU Utilization: %.2f%%\n", 100*float64(stats.UsedCores)/float64(stats.NumCPU))
	fmt.Printf("Cores Used:      %d\n", stats.UsedCores)
	fmt.Printf("Cores Available: %d\n", stats.NumCPU-stats.UsedCores)
	fmt.Println("-----------------------------")

	fmt.Println("Running processes:")
	for _, p := range list {
		if p.Done() {
			continue
		}
		fmt.Printf("%s  (%s) Core: %d %d / %d\n", p.Name, p.CreatedAt.Format(time.RFC3339), p.CoreAssigned(), p.CurrentLine, p.TotalLine)
	}

	fmt.Println("\nFinished processes:")
	for _, p := range list {
		if p.Finished() {
			fmt.Printf("%s (%s) Finished %d / %d\n", p.Name, p.FinishedAt().Format(time.RFC3339), p.TotalLine, p.TotalLine)
		}
	}

	fmt.Println("\nShutdown processes:")
	for _, p := range list {
		if p.Shutdown() {
			reason, at := p.ShutdownInfo()
			fmt.Printf("%s (%s) %s\n", p.Name, at.Format(time.RFC3339), reason)
		}
	}
}

func handleReportUtil(s *sim.Simulator) {
	if !s.Initialized() {
		fmt.Println("Please initialize first.")
		return
	}
	f, err := os.Create("csopesy-log.txt")
	if err != nil {
		fmt.Println("Error writing report:", err)
		return
	}
	defer f.Close()

	list, _ := s.ListProcesses()
	stats, _ := s.Stats()
	fmt.Fprintf(f, "CPU Utilization: %.2f%%\n", 100*float64(stats.UsedCores)/float64(stats.NumCPU))
	fmt.Fprintf(f, "Cores Used:      %d\n", stats.UsedCores)
	fmt.Fprintf(f, "Cores Available: %d\n", stats.NumCPU-stats.UsedCores)
	fmt.Fprintln(f, "\nRunning processes:")
	for _, p := range list {
		if !p.Done() {
			fmt.Fprintf(f, "%s Core: %d %d / %d\n", p.Name, p.CoreAssigned(), p.CurrentLine, p.TotalLine)
		}
	}
	fmt.Fprintln(f, "\nFinished processes:")
	for _, p := range list {
		if p.Finished() {
			fmt.Fprintf(f, "%s Finished %d / %d\n", p.Name, p.TotalLine, p.TotalLine)
		}
	}
	fmt.Println("Report written to csopesy-log.txt")
}

func handleProcessSMI(s *sim.Simulator) {
	stats, err := s.Stats()
	if err != nil {
		fmt.Println(err)
		return
	}
	vm, _ := s.VMStats()
	fmt.Println("\n[System Stats]")
	fmt.Printf("CPU Utilization: %.2f%%\n", stats.CPUUtil)
	fmt.Printf("Cores Used:      %d / %d\n", stats.UsedCores, stats.NumCPU)
	fmt.Printf("Instructions executed: %d\n", stats.InstructionsExecuted)
	fmt.Printf("Memory: %d / %d bytes used\n", vm.UsedMemory, vm.TotalMemory)
}

func handleVMStats(s *sim.Simulator) {
	vm, err := s.VMStats()
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("\n[Memory Summary]")
	fmt.Printf("Total memory : %d bytes\n", vm.TotalMemory)
	fmt.Printf("Used  memory : %d bytes\n", vm.UsedMemory)
	fmt.Printf("Free  memory : %d bytes\n", vm.FreeMemory)
	fmt.Println("\n[CPU Tick Summary]")
	fmt.Printf("Active CPU ticks : %d\n", vm.ActiveCPUTicks)
	fmt.Printf("Idle   CPU ticks : %d\n", vm.IdleCPUTicks)
	fmt.Printf("Total  CPU ticks : %d\n", vm.TotalCPUTicks)
	fmt.Println("\n[Paging Summary]")
	fmt.Printf("Num paged in  : %d\n", vm.PageIns)
	fmt.Printf("Num paged out : %d\n", vm.PageOuts)
	fmt.Printf("Backing store pages: %d\n", vm.BackingStorePages)
}

// attachSession implements the "screen -s/-c/-r" sub-REPL: a nested
// command loop scoped to a single process, matching displayProcess.
func attachSession(s *sim.Simulator, scanner *bufio.Scanner, p *process.Process) {
	printProcessDetails(p)
	for {
		fmt.Print("Enter a command: ")
		if !scanner.Scan() {
			return
		}
		sub := strings.TrimSpace(scanner.Text())
		switch sub {
		case "exit":
			return
		case "clear":
			fmt.Print("\033[H\033[2J")
			printProcessDetails(p)
		case "process-smi":
			printProcessSessionStats(p)
		default:
			fmt.Println("Unknown command inside process view.")
		}
	}
}

func printProcessDetails(p *process.Process) {
	if p.Shutdown() {
		reason, at := p.ShutdownInfo()
		fmt.Printf("Process %s shutdown due to memory access violation error that occurred at %s. %s.\n", p.Name, at.Format(time.RFC3339), reason)
		return
	}
	fmt.Println("Process:", p.Name)
	fmt.Println("ID:", p.ID)
	fmt.Printf("Memory Size: %d bytes\n", p.MemorySizeBytes)
	fmt.Printf("Instruction: %d of %d\n", p.CurrentLine, p.TotalLine)
	fmt.Println("Created:", p.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Page Table (%d pages):\n", len(p.PageTable))
	for i, entry := range p.PageTable {
		fmt.Printf("  Page %d: inMemory=%t, frameIndex=%d\n", i, entry.InMemory, entry.FrameIndex)
	}
	fmt.Println("Type 'exit' to quit, 'clear' to clear the screen")
}

func printProcessSessionStats(p *process.Process) {
	fmt.Println("\nprocess_name:", p.Name)
	fmt.Println("ID:", p.ID)
	fmt.Printf("Core: %d\n", p.CoreAssigned())
	fmt.Printf("\nCurrent instruction line %d\n", p.CurrentLine)
	fmt.Printf("Lines of code: %d\n", p.TotalLine)
	if p.Finished() {
		fmt.Println("\nStatus: finished")
	} else {
		limit := p.CurrentLine
		if limit > uint64(len(p.Instructions)) {
			limit = uint64(len(p.Instructions))
		}
		for i := uint64(0); i < limit; i++ {
			fmt.Println("  -", p.Instructions[i])
		}
	}
	fmt.Println()
}
