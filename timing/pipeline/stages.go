package pipeline

import (
	"fmt"

	"github.com/sarchlab/mipssim/insts"
	"github.com/sarchlab/mipssim/timing/memsys"
)

// Per-kind stage behaviors. The layout for the three-operand ALU ops:
// EX1 re-applies forwarding and computes; EX2 and EX3 publish the
// result one row deeper into the forwarding buffers; MEM publishes the
// final rows; WB commits. Multiplies take the full execute phase, so
// they skip the EX1/EX2 publications and first appear in the buffers at
// EX3. The logical ops and li publish already at EX1, which is why no
// hazard predicate covers them.

// forwardOperands refreshes the RS snapshot (op1) and, when withRT is
// set, the RT snapshot (op2) from a forwarding buffer.
func (s *Slot) forwardOperands(buf []forwardRow, withRT bool) {
	if v, ok := forwardVal(buf, s.inst.RS); ok {
		s.op1 = v
	}
	if withRT {
		if v, ok := forwardVal(buf, s.inst.RT); ok {
			s.op2 = v
		}
	}
}

// id performs the decode-stage work for the slot.
func (s *Slot) id(p *Pipeline) event {
	inst := s.inst

	switch {
	case inst.Op.IsRType():
		s.op1 = p.regFile.Read(inst.RS)
		s.op2 = p.regFile.Read(inst.RT)
		s.forwardOperands(p.idFwd[:], true)
		if p.loadWordHazard(1, inst.RS, inst.RT) ||
			p.multHazard(inst.RS, 1) || p.multHazard(inst.RT, 1) ||
			p.addSubHazard(inst.RS, inst.RT) {
			return stallEvent(posID)
		}

	case inst.Op.IsArithI():
		s.op1 = p.regFile.Read(inst.RS)
		s.forwardOperands(p.idFwd[:], false)
		if p.loadWordHazard(1, inst.RS) ||
			p.multHazard(inst.RS, 1) || p.addSubHazard(inst.RS) {
			return stallEvent(posID)
		}

	case inst.Op.IsMemAccess():
		s.op1 = p.regFile.Read(inst.RS)
		s.op2 = p.regFile.Read(inst.RT)
		if p.loadWordHazard(1, inst.RT) ||
			p.multHazard(inst.RT, 1) || p.addSubHazard(inst.RT) {
			return stallEvent(posID)
		}
		s.forwardOperands(p.idFwd[:], true)

	case inst.Op.IsBranch():
		s.op1 = p.regFile.Read(inst.RS)
		s.op2 = p.regFile.Read(inst.RT)
		if p.loadWordHazard(2, inst.RS, inst.RT) ||
			p.multHazard(inst.RS, 2) || p.multHazard(inst.RT, 2) ||
			p.branchAddSubHazard(inst.RS, inst.RT) {
			return stallEvent(posID)
		}
		s.forwardOperands(p.idFwd[:], true)
		s.mark(stageID, p.clock)

		taken := s.op1 == s.op2
		if inst.Op == insts.OpBNE {
			taken = !taken
		}
		if taken {
			// The -4 cancels the increment at the start of next tick.
			p.pc = int(inst.Imm)*4 - 4
			return flushEvent()
		}
		return continueEvent()

	case inst.Op == insts.OpJ:
		p.pc = inst.Target - 4
		s.mark(stageID, p.clock)
		return flushEvent()
	}

	s.mark(stageID, p.clock)
	return continueEvent()
}

// ex1 performs the first execute sub-stage.
func (s *Slot) ex1(p *Pipeline) error {
	inst := s.inst

	switch inst.Op {
	case insts.OpAdd, insts.OpSub, insts.OpMult:
		s.forwardOperands(p.exFwd[:], true)
		s.result = rTypeALU(inst.Op, s.op1, s.op2)

	case insts.OpAnd, insts.OpOr:
		s.forwardOperands(p.exFwd[:], true)
		s.result = rTypeALU(inst.Op, s.op1, s.op2)
		fillRow(p.idFwd[:], 0, inst.RD, s.result, true)

	case insts.OpAddI, insts.OpSubI, insts.OpMultI:
		s.forwardOperands(p.exFwd[:], false)
		s.result = iTypeALU(inst.Op, s.op1, inst.Imm)

	case insts.OpAndI, insts.OpOrI:
		s.forwardOperands(p.exFwd[:], false)
		s.result = iTypeALU(inst.Op, s.op1, inst.Imm)
		fillRow(p.idFwd[:], 0, inst.RT, s.result, true)

	case insts.OpLI:
		fillRow(p.idFwd[:], 0, inst.RT, inst.Imm, true)

	case insts.OpLW, insts.OpSW:
		s.forwardOperands(p.exFwd[:], true)
		s.result = s.op2 + inst.Imm
		if s.result&0b11 != 0 {
			return fmt.Errorf("effective address %d not word aligned in %s",
				s.result, inst.Op)
		}

	case insts.OpNop:
		fillRow(p.idFwd[:], 0, 0, 0, false)
	}

	return nil
}

// ex2 performs the second execute sub-stage.
func (s *Slot) ex2(p *Pipeline) {
	inst := s.inst

	switch inst.Op {
	case insts.OpAdd, insts.OpSub, insts.OpAnd, insts.OpOr:
		fillRow(p.idFwd[:], 1, inst.RD, s.result, true)
		fillRow(p.exFwd[:], 0, inst.RD, s.result, true)

	case insts.OpAddI, insts.OpSubI, insts.OpAndI, insts.OpOrI:
		fillRow(p.idFwd[:], 1, inst.RT, s.result, true)
		fillRow(p.exFwd[:], 0, inst.RT, s.result, true)

	case insts.OpLI:
		fillRow(p.idFwd[:], 1, inst.RT, inst.Imm, true)
		fillRow(p.exFwd[:], 0, inst.RT, inst.Imm, true)

	case insts.OpNop:
		fillRow(p.idFwd[:], 1, 0, 0, false)
		fillRow(p.exFwd[:], 0, 0, 0, false)
	}
}

// ex3 performs the third execute sub-stage. Multiplies publish their
// first forwarding rows here; their result is not available earlier.
func (s *Slot) ex3(p *Pipeline) {
	inst := s.inst

	switch {
	case inst.Op.IsRType():
		fillRow(p.idFwd[:], 2, inst.RD, s.result, true)
		fillRow(p.exFwd[:], 1, inst.RD, s.result, true)

	case inst.Op.IsArithI():
		fillRow(p.idFwd[:], 2, inst.RT, s.result, true)
		fillRow(p.exFwd[:], 1, inst.RT, s.result, true)

	case inst.Op == insts.OpLI:
		fillRow(p.idFwd[:], 2, inst.RT, inst.Imm, true)
		fillRow(p.exFwd[:], 1, inst.RT, inst.Imm, true)

	case inst.Op == insts.OpNop:
		fillRow(p.idFwd[:], 2, 0, 0, false)
		fillRow(p.exFwd[:], 1, 0, 0, false)
		return
	}

	s.mark(stageEX, p.clock)
}

// mem performs the memory stage.
func (s *Slot) mem(p *Pipeline) (event, error) {
	inst := s.inst

	switch {
	case inst.Op.IsRType():
		fillRow(p.idFwd[:], 3, inst.RD, s.result, true)
		fillRow(p.exFwd[:], 2, inst.RD, s.result, true)
		fillRow(p.daFwd[:], 0, inst.RD, s.result, true)

	case inst.Op.IsArithI():
		fillRow(p.idFwd[:], 3, inst.RT, s.result, true)
		fillRow(p.exFwd[:], 2, inst.RT, s.result, true)
		fillRow(p.daFwd[:], 0, inst.RT, s.result, true)

	case inst.Op == insts.OpLI:
		fillRow(p.daFwd[:], 0, inst.RT, inst.Imm, true)
		fillRow(p.idFwd[:], 3, inst.RT, inst.Imm, true)
		fillRow(p.exFwd[:], 2, inst.RT, inst.Imm, true)

	case inst.Op == insts.OpLW:
		s.forwardOperands(p.daFwd[:], true)
		w, stall, err := p.mem.FetchData(int(s.result))
		if err != nil {
			return continueEvent(), err
		}
		if stall != memsys.StallNone {
			return stallEvent(int(stall)), nil
		}
		s.loaded = w.Value
		fillRow(p.idFwd[:], 3, inst.RS, s.loaded, true)
		fillRow(p.exFwd[:], 2, inst.RS, s.loaded, true)
		fillRow(p.daFwd[:], 0, inst.RS, s.loaded, true)

	case inst.Op == insts.OpSW:
		s.forwardOperands(p.daFwd[:], true)
		stall, err := p.mem.WriteWord(s.op1, int(s.result))
		if err != nil {
			return continueEvent(), err
		}
		if stall != memsys.StallNone {
			return stallEvent(int(stall)), nil
		}

	case inst.Op == insts.OpNop:
		fillRow(p.idFwd[:], 3, 0, 0, false)
		fillRow(p.exFwd[:], 2, 0, 0, false)
		fillRow(p.daFwd[:], 0, 0, 0, false)
		return continueEvent(), nil
	}

	s.mark(stageMEM, p.clock)
	return continueEvent(), nil
}

// writeBack commits the slot's result to the register file.
func (s *Slot) writeBack(p *Pipeline) {
	inst := s.inst

	switch {
	case inst.Op.IsRType():
		p.regFile.Write(inst.RD, s.result)
	case inst.Op.IsArithI():
		p.regFile.Write(inst.RT, s.result)
	case inst.Op == insts.OpLI:
		p.regFile.Write(inst.RT, inst.Imm)
	case inst.Op == insts.OpLW:
		p.regFile.Write(inst.RS, s.loaded)
	}

	s.mark(stageWB, p.clock)
}

// rTypeALU computes a three-register-operand result.
func rTypeALU(op insts.Op, a, b int32) int32 {
	switch op {
	case insts.OpAdd:
		return a + b
	case insts.OpSub:
		return a - b
	case insts.OpAnd:
		return a & b
	case insts.OpOr:
		return a | b
	case insts.OpMult:
		return a * b
	}
	return 0
}

// iTypeALU computes an immediate-operand result.
func iTypeALU(op insts.Op, a, imm int32) int32 {
	switch op {
	case insts.OpAddI:
		return a + imm
	case insts.OpSubI:
		return a - imm
	case insts.OpAndI:
		return a & imm
	case insts.OpOrI:
		return a | imm
	case insts.OpMultI:
		return a * imm
	}
	return 0
}
