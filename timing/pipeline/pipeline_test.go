package pipeline_test

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mipssim/asm"
	"github.com/sarchlab/mipssim/emu"
	"github.com/sarchlab/mipssim/timing/memsys"
	"github.com/sarchlab/mipssim/timing/pipeline"
)

// simulation bundles the pieces of one simulated run.
type simulation struct {
	regs *emu.RegFile
	mem  *memsys.Memory
	pipe *pipeline.Pipeline
	out  string
	err  error
}

// runProgram assembles src, loads data, and runs the pipeline to
// completion.
func runProgram(src string, data []int32) simulation {
	prog, err := asm.Assemble(strings.NewReader(src))
	Expect(err).NotTo(HaveOccurred())

	ram := emu.NewMemory()
	Expect(ram.LoadProgram(prog.Instructions)).To(Succeed())
	Expect(ram.LoadData(data)).To(Succeed())

	regs := &emu.RegFile{}
	mem := memsys.New(nil, ram)

	var out bytes.Buffer
	pipe := pipeline.NewPipeline(regs, mem, pipeline.WithOutput(&out))
	runErr := pipe.Run()

	return simulation{regs: regs, mem: mem, pipe: pipe, out: out.String(), err: runErr}
}

// stageTimes extracts the timestamps of the first output line whose
// 35-character source-text column contains needle. Timestamps start at
// column 35, after the padded source text.
func stageTimes(out, needle string) []int {
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 36 || !strings.Contains(line[:35], needle) {
			continue
		}
		var times []int
		for _, field := range strings.Fields(line[35:]) {
			n, err := strconv.Atoi(field)
			if err != nil {
				return nil
			}
			times = append(times, n)
		}
		return times
	}
	return nil
}

var _ = Describe("Pipeline", func() {
	Describe("program execution", func() {
		It("should run a halt-only program cleanly", func() {
			sim := runProgram("hlt\n", nil)
			Expect(sim.err).NotTo(HaveOccurred())

			stats := sim.mem.Stats()
			Expect(stats.DataRequests).To(Equal(0))
			Expect(stats.DataHits).To(Equal(0))
			Expect(stats.InstRequests).To(Equal(1))

			times := stageTimes(sim.out, "hlt")
			Expect(times).To(HaveLen(5))
		})

		It("should compute immediate arithmetic with cache-miss accounting", func() {
			// Scenario A: one instruction fetch misses, the rest of the
			// block hits, and the data cache is never touched.
			sim := runProgram(strings.Join([]string{
				"li r1, 5",
				"li r2, 9",
				"add r3, r1, r2",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(3)).To(Equal(int32(14)))

			stats := sim.mem.Stats()
			Expect(stats.DataRequests).To(Equal(0))
			Expect(stats.DataHits).To(Equal(0))
			Expect(stats.InstRequests).To(Equal(4))
			Expect(stats.InstHits).To(Equal(3))
		})

		It("should resolve a RAW dependency through forwarding", func() {
			// Scenario B.
			sim := runProgram(strings.Join([]string{
				"li r1, 3",
				"li r2, 4",
				"add r3, r1, r2",
				"add r4, r3, r3",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(3)).To(Equal(int32(7)))
			Expect(sim.regs.Read(4)).To(Equal(int32(14)))
		})

		It("should stall a consumer behind a multiply", func() {
			// Scenario C: the add waits until the multiply result is
			// published into the forwarding buffers.
			sim := runProgram(strings.Join([]string{
				"li r1, 3",
				"li r2, 4",
				"mult r3, r1, r2",
				"add r4, r3, r3",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(4)).To(Equal(int32(24)))

			multTimes := stageTimes(sim.out, "mult r3")
			addTimes := stageTimes(sim.out, "add r4")
			Expect(multTimes).To(HaveLen(5))
			Expect(addTimes).To(HaveLen(5))
			Expect(addTimes[1]).To(BeNumerically(">", multTimes[1]+1))
		})

		It("should not stall once the multiply reaches forwarding depth", func() {
			sim := runProgram(strings.Join([]string{
				"li r1, 3",
				"li r2, 4",
				"mult r3, r1, r2",
				"li r9, 0",
				"add r4, r3, r3",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(4)).To(Equal(int32(24)))

			multTimes := stageTimes(sim.out, "mult r3")
			addTimes := stageTimes(sim.out, "add r4")
			// One spacer: decode slots stay back-to-back, no stall.
			Expect(addTimes[1]).To(Equal(multTimes[1] + 2))
		})

		It("should stall a load consumer until the loaded value forwards", func() {
			// Scenario D: data word 7 lives at RAM offset 0x100.
			sim := runProgram(strings.Join([]string{
				"li r2, 256",
				"lw r1, 0(r2)",
				"add r3, r1, r1",
				"hlt",
			}, "\n"), []int32{7})
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(1)).To(Equal(int32(7)))
			Expect(sim.regs.Read(3)).To(Equal(int32(14)))

			lwTimes := stageTimes(sim.out, "lw r1")
			addTimes := stageTimes(sim.out, "add r3")
			Expect(addTimes[1]).To(BeNumerically(">", lwTimes[1]+1))
		})

		It("should flush the speculative fetch on a taken branch", func() {
			// Scenario E.
			sim := runProgram(strings.Join([]string{
				"li r1, 1",
				"li r2, 1",
				"beq r1, r2, skip",
				"li r3, 99",
				"skip: li r3, 7",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(3)).To(Equal(int32(7)))

			// The squashed instruction's text is recorded by the flush
			// bubble.
			Expect(sim.out).To(ContainSubstring("li r3, 99"))

			// Branches retire with only IF and ID timestamps.
			Expect(stageTimes(sim.out, "beq")).To(HaveLen(2))
		})

		It("should not branch when the comparison fails", func() {
			sim := runProgram(strings.Join([]string{
				"li r1, 1",
				"li r2, 2",
				"beq r1, r2, skip",
				"li r3, 99",
				"skip: hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(3)).To(Equal(int32(99)))
		})

		It("should take bne on inequality", func() {
			sim := runProgram(strings.Join([]string{
				"li r1, 1",
				"li r2, 2",
				"bne r1, r2, skip",
				"li r3, 99",
				"skip: li r4, 5",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(3)).To(Equal(int32(0)))
			Expect(sim.regs.Read(4)).To(Equal(int32(5)))
		})

		It("should jump unconditionally and retire with two timestamps", func() {
			sim := runProgram(strings.Join([]string{
				"li r1, 1",
				"j skip",
				"li r3, 99",
				"skip: li r4, 5",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(3)).To(Equal(int32(0)))
			Expect(sim.regs.Read(4)).To(Equal(int32(5)))
			Expect(stageTimes(sim.out, "j skip")).To(HaveLen(2))
		})

		It("should drain the write buffer before terminating", func() {
			// Scenario F.
			sim := runProgram(strings.Join([]string{
				"li r1, 42",
				"li r2, 256",
				"sw r1, 0(r2)",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())

			Expect(sim.mem.WriteBufferEmpty()).To(BeTrue())
			Expect(sim.mem.RAM().Word(emu.DataStart).Value).To(Equal(int32(42)))

			stats := sim.mem.Stats()
			Expect(stats.DataRequests).To(Equal(1))
			Expect(stats.DataHits).To(Equal(0))
		})

		It("should round-trip stored values through the data cache", func() {
			for _, k := range []int32{5, 32767, -32768} {
				sim := runProgram(strings.Join([]string{
					"li r1, " + strconv.Itoa(int(k)),
					"li r2, 256",
					"sw r1, 0(r2)",
					"lw r3, 0(r2)",
					"hlt",
				}, "\n"), nil)
				Expect(sim.err).NotTo(HaveOccurred())
				Expect(sim.regs.Read(3)).To(Equal(k))
			}
		})

		It("should allow writes to register zero", func() {
			sim := runProgram(strings.Join([]string{
				"li r0, 9",
				"li r9, 0",
				"li r8, 0",
				"add r1, r0, r0",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())
			Expect(sim.regs.Read(0)).To(Equal(int32(9)))
			Expect(sim.regs.Read(1)).To(Equal(int32(18)))
		})
	})

	Describe("error handling", func() {
		It("should fail on an unaligned effective address", func() {
			sim := runProgram(strings.Join([]string{
				"li r2, 2",
				"lw r1, 1(r2)",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).To(MatchError(ContainSubstring("not word aligned")))
		})

		It("should diagnose a missing HLT", func() {
			sim := runProgram("li r1, 5\n", nil)
			var diag *memsys.HaltDiagnostic
			Expect(errors.As(sim.err, &diag)).To(BeTrue())
		})
	})

	Describe("trace output", func() {
		It("should emit monotonically ordered stage timestamps", func() {
			sim := runProgram(strings.Join([]string{
				"li r2, 256",
				"lw r1, 0(r2)",
				"add r3, r1, r1",
				"sw r3, 4(r2)",
				"hlt",
			}, "\n"), []int32{7})
			Expect(sim.err).NotTo(HaveOccurred())

			full := 0
			for _, needle := range []string{"li r2", "lw r1", "add r3", "sw r3", "hlt"} {
				times := stageTimes(sim.out, needle)
				Expect(times).To(HaveLen(5), "times for %s", needle)
				for i := 1; i < len(times); i++ {
					Expect(times[i]).To(BeNumerically(">=", times[i-1]))
				}
				full++
			}
			Expect(full).To(Equal(5))
		})

		It("should order retirement lines by program completion", func() {
			sim := runProgram(strings.Join([]string{
				"li r1, 1",
				"li r2, 2",
				"hlt",
			}, "\n"), nil)
			Expect(sim.err).NotTo(HaveOccurred())

			first := strings.Index(sim.out, "li r1")
			second := strings.Index(sim.out, "li r2")
			third := strings.Index(sim.out, "hlt")
			Expect(first).To(BeNumerically("<", second))
			Expect(second).To(BeNumerically("<", third))
		})
	})

	Describe("Tick", func() {
		It("should keep exactly six slots and advance the clock by one", func() {
			prog, err := asm.Assemble(strings.NewReader("li r1, 5\nhlt\n"))
			Expect(err).NotTo(HaveOccurred())

			ram := emu.NewMemory()
			Expect(ram.LoadProgram(prog.Instructions)).To(Succeed())

			pipe := pipeline.NewPipeline(&emu.RegFile{}, memsys.New(nil, ram))
			Expect(pipe.Slots()).To(HaveLen(6))

			for i := 1; i <= 40; i++ {
				done, err := pipe.Tick()
				Expect(err).NotTo(HaveOccurred())
				Expect(pipe.Clock()).To(Equal(i))
				if done {
					break
				}
				Expect(pipe.Slots()).To(HaveLen(6))
			}
		})
	})

	Describe("pipeline trace", func() {
		It("should dump occupancy once per tick", func() {
			prog, err := asm.Assemble(strings.NewReader("hlt\n"))
			Expect(err).NotTo(HaveOccurred())

			ram := emu.NewMemory()
			Expect(ram.LoadProgram(prog.Instructions)).To(Succeed())

			var trace bytes.Buffer
			pipe := pipeline.NewPipeline(&emu.RegFile{}, memsys.New(nil, ram),
				pipeline.WithPipelineTrace(&trace))
			Expect(pipe.Run()).To(Succeed())

			lines := strings.Split(strings.TrimRight(trace.String(), "\n"), "\n")
			Expect(len(lines)).To(Equal(pipe.Clock()))
			Expect(lines[0]).To(ContainSubstring("[NOP]  =>  "))
			Expect(trace.String()).To(ContainSubstring("[hlt]"))
		})
	})

	Describe("DumpRegisters", func() {
		It("should print one line per register", func() {
			sim := runProgram("li r1, 5\nhlt\n", nil)
			Expect(sim.err).NotTo(HaveOccurred())

			var b bytes.Buffer
			sim.pipe.DumpRegisters(&b)
			lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
			Expect(lines).To(HaveLen(emu.NumRegs))
			Expect(lines[1]).To(Equal("R1: 5"))
		})
	})
})
