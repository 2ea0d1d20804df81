package emu

import (
	"fmt"

	"github.com/sarchlab/mipssim/insts"
)

const (
	// RAMSize is the number of byte-addressed word slots in main memory.
	RAMSize = 512

	// DataStart is the byte address where data words begin.
	DataStart = 0x100
)

// Word is one main-memory slot. A slot holds either a raw data value or
// an instruction; which one is meaningful is decided by the access path
// (fetch vs load), not by the word itself. The zero Word is an empty
// data slot.
type Word struct {
	// Value is the data contents. Meaningful when Inst is nil.
	Value int32

	// Inst is non-nil when the slot was loaded with an instruction.
	Inst *insts.Instruction
}

// IsInstruction reports whether the slot holds an instruction.
func (w Word) IsInstruction() bool {
	return w.Inst != nil
}

// Memory is flat single-ported main memory. Slots are indexed directly
// by byte address; the simulator only ever touches word-aligned slots.
type Memory struct {
	words [RAMSize]Word
}

// NewMemory creates empty main memory.
func NewMemory() *Memory {
	return &Memory{}
}

// InBounds reports whether addr names a slot inside RAM.
func (m *Memory) InBounds(addr int) bool {
	return addr >= 0 && addr < RAMSize
}

// Word returns the slot at the given byte address.
func (m *Memory) Word(addr int) Word {
	return m.words[addr]
}

// SetWord stores a word at the given byte address.
func (m *Memory) SetWord(addr int, w Word) {
	m.words[addr] = w
}

// LoadProgram places instructions at byte addresses 0, 4, 8, ... .
func (m *Memory) LoadProgram(program []*insts.Instruction) error {
	for i, inst := range program {
		if i*4 >= RAMSize {
			return fmt.Errorf("program of %d words does not fit in memory", len(program))
		}
		m.words[i*4] = Word{Inst: inst}
	}
	return nil
}

// LoadData places data words starting at DataStart, one per four bytes.
func (m *Memory) LoadData(data []int32) error {
	for i, v := range data {
		addr := DataStart + i*4
		if addr >= RAMSize {
			return fmt.Errorf("data of %d words does not fit in memory", len(data))
		}
		m.words[addr] = Word{Value: v}
	}
	return nil
}
