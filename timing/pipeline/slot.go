package pipeline

import "github.com/sarchlab/mipssim/insts"

// Stage timestamp indices for a slot's exit times.
const (
	stageIF  = 0
	stageID  = 1
	stageEX  = 2
	stageMEM = 3
	stageWB  = 4
)

// Slot is one pipeline occupant: an instruction descriptor plus its
// per-execution scratch. Every fetch produces a fresh Slot, so two
// in-flight executions of the same program location have independent
// operand snapshots, results, and timestamps.
type Slot struct {
	inst *insts.Instruction

	// name is the text emitted on retirement. Normally the descriptor's
	// padded source line; flush bubbles carry the source text of the
	// instruction that would have come next.
	name string

	// Operand snapshots taken at ID and refreshed by forwarding.
	op1, op2 int32

	// result holds the computed value, or the effective address for
	// memory accesses.
	result int32

	// loaded is the value a load pulled from the data cache.
	loaded int32

	// times records the clock tick at which the slot exited each stage.
	times [5]int
}

func newSlot(inst *insts.Instruction) *Slot {
	return &Slot{inst: inst, name: inst.Name}
}

// bubble creates a plain pipeline bubble.
func bubble() *Slot {
	return newSlot(insts.Nop())
}

// flushBubble creates the bubble that replaces a squashed fetch. It
// remembers the squashed instruction's source text for the output.
func flushBubble(name string) *Slot {
	s := bubble()
	s.name = name
	return s
}

// isBubble reports whether the slot is a pipeline bubble.
func (s *Slot) isBubble() bool {
	return s.inst.Op == insts.OpNop
}

// mark records the clock tick at which the slot exits a stage. Bubbles
// keep no timestamps.
func (s *Slot) mark(stage, clock int) {
	if s.isBubble() {
		return
	}
	s.times[stage] = clock
}

// Times returns the recorded stage-exit timestamps (IF, ID, EX, MEM,
// WB order).
func (s *Slot) Times() [5]int {
	return s.times
}

// Inst returns the slot's instruction descriptor.
func (s *Slot) Inst() *insts.Instruction {
	return s.inst
}
