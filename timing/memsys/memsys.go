// Package memsys models the single-ported main memory and its three
// clients: instruction fetch through the I-cache, data access through
// the D-cache, and the write-buffer drain.
//
// Port arbitration follows fixed priorities: an in-flight I-cache fill
// preempts the start of a D-cache fill, and the write buffer drains
// only when neither cache has a fill in flight. Operations that cannot
// make progress report the pipeline stage where a bubble must be
// inserted instead of blocking.
package memsys

import (
	"fmt"

	"github.com/sarchlab/mipssim/emu"
	"github.com/sarchlab/mipssim/insts"
	"github.com/sarchlab/mipssim/timing/cache"
	"github.com/sarchlab/mipssim/timing/latency"
)

// StallStage identifies the pipeline position where a bubble must be
// inserted when a memory operation cannot complete this cycle.
type StallStage int

// Stall positions. The values are pipeline insertion indices.
const (
	StallNone StallStage = -1
	StallIF   StallStage = 0
	StallMEM  StallStage = 5
)

// HaltDiagnostic is the recoverable "forget to add HLT?" condition:
// instruction fetch ran off the end of the program into a data word or
// an empty slot. The simulation terminates after reporting it.
type HaltDiagnostic struct {
	Addr int
}

func (e *HaltDiagnostic) Error() string {
	return fmt.Sprintf(
		"word at address %d is not an instruction. Forget to add HLT?", e.Addr)
}

// Statistics holds cache access counters. A request is counted when an
// access hits and when a miss starts a fill; fill progress and fill
// completion are not counted again.
type Statistics struct {
	InstRequests int
	InstHits     int
	DataRequests int
	DataHits     int
}

type writeEntry struct {
	word emu.Word
	addr int
}

// Memory is the arbitrated memory subsystem: main RAM, the split
// caches, the fill timers, and the write buffer.
type Memory struct {
	cfg *latency.TimingConfig
	ram *emu.Memory

	icache *cache.Cache
	dcache *cache.Cache

	// Remaining cycles for the transaction each client has in flight.
	iTimer      int
	dTimer      int
	bufferTimer int

	ifBusy     bool
	memBusy    bool
	bufferBusy bool

	writeBuf []writeEntry

	stats Statistics
}

// New creates the memory subsystem. A nil config selects the defaults.
func New(cfg *latency.TimingConfig, ram *emu.Memory) *Memory {
	if cfg == nil {
		cfg = latency.DefaultTimingConfig()
	}
	return &Memory{
		cfg:    cfg,
		ram:    ram,
		icache: cache.New(cfg.ICacheBlocks, cfg.ICacheBlockWords),
		dcache: cache.New(cfg.DCacheBlocks, cfg.DCacheBlockWords),
	}
}

// RAM returns the backing main memory.
func (m *Memory) RAM() *emu.Memory {
	return m.ram
}

// Stats returns the access counters.
func (m *Memory) Stats() Statistics {
	return m.stats
}

// WriteBufferEmpty reports whether no writes are pending.
func (m *Memory) WriteBufferEmpty() bool {
	return len(m.writeBuf) == 0
}

// FetchInstruction reads the instruction at addr through the I-cache.
//
// On a hit the instruction is returned immediately. On a miss the fill
// occupies the port for ICacheFillCycles total; each call while the
// fill is in flight burns one cycle and stalls the fetch stage. A miss
// that arrives while the write buffer holds the port stalls at MEM
// instead, leaving the drain to finish first.
func (m *Memory) FetchInstruction(addr int) (*insts.Instruction, StallStage, error) {
	if !m.ram.InBounds(addr) {
		return nil, StallNone, fmt.Errorf("instruction address %d outside memory", addr)
	}

	switch {
	case m.icache.Hit(addr):
		m.stats.InstRequests++
		m.stats.InstHits++
		return m.instructionAt(addr)

	case m.bufferBusy:
		return nil, StallMEM, nil

	case !m.ifBusy:
		// Miss with the port free: start the fill. This cycle is part
		// of the fill cost, so the timer starts one short.
		m.stats.InstRequests++
		m.ifBusy = true
		m.iTimer = m.cfg.ICacheFillCycles - 1
		return nil, StallIF, nil

	case m.iTimer == 0:
		// Fill finished on the previous cycle: install and return.
		m.ifBusy = false
		m.icache.Populate(addr, m.ram)
		return m.instructionAt(addr)

	default:
		m.iTimer--
		return nil, StallIF, nil
	}
}

// instructionAt pulls the cached word at addr and checks that it is an
// instruction. Executing past the end of the program lands on a data
// word or an empty slot; that is the missing-HLT diagnostic.
func (m *Memory) instructionAt(addr int) (*insts.Instruction, StallStage, error) {
	w := m.icache.FetchWord(addr)
	if !w.IsInstruction() {
		return nil, StallNone, &HaltDiagnostic{Addr: addr}
	}
	return w.Inst, StallNone, nil
}

// FetchData reads the data word at addr through the D-cache. An
// in-flight I-cache fill has priority on the port; the data client
// donates its cycle to that fill and stalls.
func (m *Memory) FetchData(addr int) (emu.Word, StallStage, error) {
	if !m.ram.InBounds(addr) {
		return emu.Word{}, StallNone, fmt.Errorf("data address %d outside memory", addr)
	}

	switch {
	case m.dcache.Hit(addr):
		m.stats.DataRequests++
		m.stats.DataHits++
		return m.dcache.FetchWord(addr), StallNone, nil

	case m.iTimer != 0:
		m.iTimer--
		return emu.Word{}, StallMEM, nil

	case m.bufferBusy:
		return emu.Word{}, StallMEM, nil

	case !m.memBusy:
		m.stats.DataRequests++
		m.memBusy = true
		m.dTimer = m.cfg.DCacheFillCycles - 1
		return emu.Word{}, StallMEM, nil

	case m.dTimer == 0:
		m.memBusy = false
		m.dcache.Populate(addr, m.ram)
		return m.dcache.FetchWord(addr), StallNone, nil

	default:
		m.dTimer--
		return emu.Word{}, StallMEM, nil
	}
}

// WriteWord writes value at addr: write-through into the D-cache plus
// an entry in the write buffer for the eventual RAM update. Miss
// handling mirrors FetchData; a miss fills the block first, then the
// write lands in the fresh block.
func (m *Memory) WriteWord(value int32, addr int) (StallStage, error) {
	if !m.ram.InBounds(addr) {
		return StallNone, fmt.Errorf("data address %d outside memory", addr)
	}

	switch {
	case m.dcache.Hit(addr):
		m.stats.DataRequests++
		m.stats.DataHits++
		m.enqueueWrite(value, addr)
		return StallNone, nil

	case m.iTimer != 0:
		m.iTimer--
		return StallMEM, nil

	case m.bufferBusy:
		return StallMEM, nil

	case !m.memBusy:
		m.stats.DataRequests++
		m.memBusy = true
		m.dTimer = m.cfg.DCacheFillCycles - 1
		return StallMEM, nil

	case m.dTimer == 0:
		m.memBusy = false
		m.dcache.Populate(addr, m.ram)
		m.enqueueWrite(value, addr)
		return StallNone, nil

	default:
		m.dTimer--
		return StallMEM, nil
	}
}

func (m *Memory) enqueueWrite(value int32, addr int) {
	w := emu.Word{Value: value}
	m.dcache.Write(w, addr)
	m.writeBuf = append(m.writeBuf, writeEntry{word: w, addr: addr})
}

// TryDrainWriteBuffer advances the write-buffer drain by one cycle and
// reports whether the buffer was already empty on entry; the call that
// retires the last pending write still returns false. A drain starts
// only when the port is fully idle (no cache fill in flight) and takes
// WriteDrainCycles calls from start to the RAM update; the timer is
// decremented before the zero test, which is what charges the final
// cycle.
func (m *Memory) TryDrainWriteBuffer() bool {
	if len(m.writeBuf) == 0 {
		return true
	}

	if !m.bufferBusy && m.iTimer == 0 && m.dTimer == 0 {
		m.bufferTimer = m.cfg.WriteDrainCycles - 1
		m.bufferBusy = true
	} else if m.bufferBusy {
		m.bufferTimer--
		if m.bufferTimer == 0 {
			m.bufferBusy = false
			entry := m.writeBuf[0]
			m.writeBuf = m.writeBuf[1:]
			m.ram.SetWord(entry.addr, entry.word)
		}
	}

	return false
}

// StatsReport renders the statistics block appended to the output file
// after clean termination.
func (m *Memory) StatsReport() string {
	return fmt.Sprintf(
		"\nTotal number of access requests for instruction cache: %d\n"+
			"Number of instruction cache hits: %d\n"+
			"\n"+
			"Total number of access requests for data cache: %d\n"+
			"Number of data cache hits: %d\n",
		m.stats.InstRequests, m.stats.InstHits,
		m.stats.DataRequests, m.stats.DataHits)
}
