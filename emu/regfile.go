// Package emu provides the architectural state shared by the timing
// model: the register file and flat main memory.
package emu

// NumRegs is the number of general-purpose registers.
const NumRegs = 32

// RegFile represents the register file: 32 signed 32-bit cells, all
// zero initially. Register 0 is an ordinary cell; it is not hardwired
// to zero and writers may target it.
type RegFile struct {
	R [NumRegs]int32
}

// Read returns the value of register reg.
func (r *RegFile) Read(reg int) int32 {
	return r.R[reg]
}

// Write stores value into register reg.
func (r *RegFile) Write(reg int, value int32) {
	r.R[reg] = value
}
