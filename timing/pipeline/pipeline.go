// Package pipeline implements the six-stage in-order pipeline engine:
// the tick loop, per-instruction stage dispatch, data-hazard detection
// with forwarding, the stall/flush protocol, and retirement output.
package pipeline

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sarchlab/mipssim/emu"
	"github.com/sarchlab/mipssim/insts"
	"github.com/sarchlab/mipssim/timing/memsys"
)

// pipeDepth is the number of in-flight slots between ticks.
const pipeDepth = 6

// PipelineOption is a functional option for configuring the Pipeline.
type PipelineOption func(*Pipeline)

// WithOutput sets the sink for retirement trace lines.
func WithOutput(w io.Writer) PipelineOption {
	return func(p *Pipeline) {
		p.out = w
	}
}

// WithPipelineTrace enables the per-tick pipeline occupancy dump on w.
func WithPipelineTrace(w io.Writer) PipelineOption {
	return func(p *Pipeline) {
		p.trace = w
	}
}

// Pipeline is the six-slot in-order pipeline engine.
//
// Slots are ordered from most recently fetched to oldest:
// [IF, EX1, EX2, EX3, MEM, WB]. The ID-stage work is performed on the
// IF slot on the tick after it entered. The engine starts with six
// bubbles in flight.
type Pipeline struct {
	slots []*Slot

	regFile *emu.RegFile
	mem     *memsys.Memory

	// Forwarding buffers, keyed by producing-stage position.
	idFwd [idFwdRows]forwardRow
	exFwd [exFwdRows]forwardRow
	daFwd [daFwdRows]forwardRow

	// pc is the fetch address. It starts one word before the program so
	// the increment at the start of the first tick lands on address 0,
	// and latches to -1 once HLT enters the pipeline.
	pc    int
	clock int

	out   io.Writer
	trace io.Writer
}

// NewPipeline creates a pipeline over the given register file and
// memory subsystem, initialized with six bubbles.
func NewPipeline(regFile *emu.RegFile, mem *memsys.Memory, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		regFile: regFile,
		mem:     mem,
		pc:      -4,
		out:     io.Discard,
	}

	p.slots = make([]*Slot, 0, pipeDepth)
	for i := 0; i < pipeDepth; i++ {
		p.slots = append(p.slots, bubble())
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Clock returns the number of ticks executed so far.
func (p *Pipeline) Clock() int {
	return p.clock
}

// PC returns the current fetch address, or -1 once HLT has been fetched.
func (p *Pipeline) PC() int {
	return p.pc
}

// Slots returns the current pipeline occupants, newest first.
func (p *Pipeline) Slots() []*Slot {
	return p.slots
}

// Run ticks the pipeline until the program terminates. The returned
// error is either a fatal simulation error or the recoverable
// missing-HLT diagnostic (*memsys.HaltDiagnostic).
func (p *Pipeline) Run() error {
	for {
		done, err := p.Tick()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Tick advances the pipeline by exactly one clock cycle. It returns
// true once the synthetic terminator has retired with an empty write
// buffer.
//
// Stage order within one tick: WB, optional pipeline dump, retiree
// output, write-buffer drain attempt, then MEM, EX3, EX2, EX1, ID, and
// finally the IF enqueue. The order matters: MEM must see the
// forwarding rows the previous tick's producers left behind before this
// tick's EX stages overwrite them.
//
// A stall from any stage inserts a bubble at the stalling position and
// rewinds the program counter; the stages not yet invoked this tick are
// skipped. A flush replaces the would-be fetch with a bubble carrying
// the squashed instruction's source text; the branch has already
// redirected the program counter.
func (p *Pipeline) Tick() (bool, error) {
	p.clock++
	if p.pc != -1 {
		p.pc += 4
	}

	retiring := p.slots[pipeDepth-1]
	p.slots = p.slots[:pipeDepth-1]

	retiring.writeBack(p)

	if p.trace != nil {
		p.dumpPipe()
	}
	if err := p.emit(retiring); err != nil {
		return false, err
	}

	bufEmpty := p.mem.TryDrainWriteBuffer()

	// fetchPC is where this tick's fetch would land; a flush squashes
	// exactly that instruction.
	fetchPC := p.pc

	ev, err := p.slots[4].mem(p)
	if err != nil {
		return false, err
	}
	if ev.kind == evStall {
		p.stall(ev.stage)
		return false, nil
	}

	p.slots[3].ex3(p)
	p.slots[2].ex2(p)
	if err := p.slots[1].ex1(p); err != nil {
		return false, err
	}

	ev = p.slots[0].id(p)
	switch ev.kind {
	case evStall:
		p.stall(ev.stage)
		return false, nil
	case evFlush:
		p.flush(fetchPC)
		return false, nil
	}

	if retiring.inst.Op == insts.OpStop && bufEmpty {
		return true, nil
	}

	if p.pc < 0 {
		p.enqueue(newSlot(insts.NewStop()))
		return false, nil
	}

	inst, stall, err := p.mem.FetchInstruction(p.pc)
	if err != nil {
		return false, err
	}
	if stall != memsys.StallNone {
		p.stall(int(stall))
		return false, nil
	}

	if inst.Op == insts.OpHLT {
		// Latch the terminal state; nothing is fetched past HLT, but
		// HLT itself still flows down the pipeline.
		p.pc = -1
	}

	p.enqueue(newSlot(inst))
	return false, nil
}

// enqueue places a freshly fetched slot at the pipeline head and
// records its IF-exit timestamp.
func (p *Pipeline) enqueue(s *Slot) {
	p.slots = append([]*Slot{s}, p.slots...)
	s.mark(stageIF, p.clock)
}

// stall inserts a bubble at the given position and freezes the program
// counter by undoing this tick's increment.
func (p *Pipeline) stall(stage int) {
	p.slots = append(p.slots, nil)
	copy(p.slots[stage+1:], p.slots[stage:])
	p.slots[stage] = bubble()

	if p.pc != -1 {
		p.pc -= 4
	}
}

// flush replaces the squashed fetch with a bubble that remembers the
// squashed instruction's source text.
func (p *Pipeline) flush(squashedPC int) {
	name := ""
	if p.mem.RAM().InBounds(squashedPC) {
		if w := p.mem.RAM().Word(squashedPC); w.IsInstruction() {
			name = w.Inst.Name
		}
	}
	p.slots = append([]*Slot{flushBubble(name)}, p.slots...)
}

// emit writes the retiring slot's output line. Branches and jumps
// resolve at ID and report only their first two timestamps; bubbles
// emit only a captured source text; the terminator emits nothing.
func (p *Pipeline) emit(s *Slot) error {
	var err error

	switch {
	case s.inst.Op == insts.OpStop:
		return nil

	case s.isBubble():
		if s.name != "" {
			_, err = io.WriteString(p.out, s.name)
		}

	case s.inst.Op.IsBranch() || s.inst.Op == insts.OpJ:
		_, err = fmt.Fprintf(p.out, "%s %d %d\n",
			s.name, s.times[stageIF], s.times[stageID])

	default:
		_, err = fmt.Fprintf(p.out, "%s %d %d %d %d %d\n",
			s.name, s.times[stageIF], s.times[stageID], s.times[stageEX],
			s.times[stageMEM], s.times[stageWB])
	}

	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// dumpPipe prints the in-flight slots, newest first.
func (p *Pipeline) dumpPipe() {
	for _, s := range p.slots {
		name := strings.TrimSpace(s.name)
		if name == "" {
			name = "NOP"
		}
		fmt.Fprintf(p.trace, "[%s]  =>  ", name)
	}
	fmt.Fprintln(p.trace)
}

// DumpRegisters prints the register file, one register per line.
func (p *Pipeline) DumpRegisters(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	for i, v := range p.regFile.R {
		fmt.Fprintf(w, "R%d: %d\n", i, v)
	}
}
