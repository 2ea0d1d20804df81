package pipeline

import "github.com/sarchlab/mipssim/insts"

// Hazard predicates inspect the slots ahead of the decoding
// instruction. They answer one question: is there an in-flight producer
// whose result cannot reach this consumer through forwarding in time?
// A true answer stalls the consumer at ID.
//
// During ID the pipeline view holds five slots: index 0 is the decoding
// instruction itself, 1..3 the execute sub-stages, 4 the memory stage.

// loadDest returns the destination register of a load occupant. Loads
// write their result to RS (first-register-is-destination convention).
func loadDest(s *Slot) (int, bool) {
	if s.inst.Op == insts.OpLW {
		return s.inst.RS, true
	}
	return 0, false
}

// multDest returns the destination register of a multiply occupant.
// Multiplies publish no forwarding rows before EX3.
func multDest(s *Slot) (int, bool) {
	switch s.inst.Op {
	case insts.OpMult:
		return s.inst.RD, true
	case insts.OpMultI:
		return s.inst.RT, true
	}
	return 0, false
}

// addSubDest returns the destination register of an add/sub occupant.
// Unlike the logical ops, add/sub publish nothing at EX1, so a
// back-to-back consumer cannot be saved by forwarding.
func addSubDest(s *Slot) (int, bool) {
	switch s.inst.Op {
	case insts.OpAdd, insts.OpSub:
		return s.inst.RD, true
	case insts.OpAddI, insts.OpSubI:
		return s.inst.RT, true
	}
	return 0, false
}

// loadWordHazard reports whether a load in EX1..EX3 (and in MEM when
// end is 2, for branches) targets one of the queried registers.
func (p *Pipeline) loadWordHazard(end int, regs ...int) bool {
	last := 3
	if end == 2 {
		last = 4
	}
	for _, reg := range regs {
		for i := 1; i <= last; i++ {
			if dest, ok := loadDest(p.slots[i]); ok && dest == reg {
				return true
			}
		}
	}
	return false
}

// multHazard reports whether a multiply in EX1 (and EX2 when distance
// is 2, for branches) targets dest.
func (p *Pipeline) multHazard(dest, distance int) bool {
	if d, ok := multDest(p.slots[1]); ok && d == dest {
		return true
	}
	if distance == 2 {
		if d, ok := multDest(p.slots[2]); ok && d == dest {
			return true
		}
	}
	return false
}

// addSubHazard reports whether an add/sub in EX1 targets one of the
// queried registers.
func (p *Pipeline) addSubHazard(regs ...int) bool {
	for _, reg := range regs {
		if d, ok := addSubDest(p.slots[1]); ok && d == reg {
			return true
		}
	}
	return false
}

// branchAddSubHazard extends addSubHazard to EX2. Branches decide at
// ID, one cycle earlier than other consumers read their operands.
func (p *Pipeline) branchAddSubHazard(regs ...int) bool {
	if p.addSubHazard(regs...) {
		return true
	}
	for _, reg := range regs {
		if d, ok := addSubDest(p.slots[2]); ok && d == reg {
			return true
		}
	}
	return false
}
