// Package latency provides the timing configuration for the memory
// subsystem: cache geometry and the cycle counts charged for block
// fills and write-buffer drains.
//
// The defaults reproduce the classic configuration: a 2-block, 8-word
// instruction cache filled at 3 cycles per word (24 cycles), a 4-block,
// 4-word data cache (12 cycles), and a 3-cycle write-buffer drain.
package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds cache geometry and memory timing values.
type TimingConfig struct {
	// ICacheBlocks is the number of blocks in the instruction cache.
	// Must be a power of two. Default: 2.
	ICacheBlocks int `json:"icache_blocks"`

	// ICacheBlockWords is the number of words per instruction cache
	// block. Must be a power of two. Default: 8.
	ICacheBlockWords int `json:"icache_block_words"`

	// DCacheBlocks is the number of blocks in the data cache.
	// Must be a power of two. Default: 4.
	DCacheBlocks int `json:"dcache_blocks"`

	// DCacheBlockWords is the number of words per data cache block.
	// Must be a power of two. Default: 4.
	DCacheBlockWords int `json:"dcache_block_words"`

	// ICacheFillCycles is the total cost of an instruction cache block
	// fill, including the cycle on which the miss is detected.
	// Default: 24 (8 words at 3 cycles each).
	ICacheFillCycles int `json:"icache_fill_cycles"`

	// DCacheFillCycles is the total cost of a data cache block fill.
	// Default: 12 (4 words at 3 cycles each).
	DCacheFillCycles int `json:"dcache_fill_cycles"`

	// WriteDrainCycles is the total cost of draining one write-buffer
	// entry into main memory, including the cycle on which the drain
	// starts. Default: 3.
	WriteDrainCycles int `json:"write_drain_cycles"`
}

// DefaultTimingConfig returns a TimingConfig with the classic values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ICacheBlocks:     2,
		ICacheBlockWords: 8,
		DCacheBlocks:     4,
		DCacheBlockWords: 4,
		ICacheFillCycles: 24,
		DCacheFillCycles: 12,
		WriteDrainCycles: 3,
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields absent from
// the file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that the geometry is power-of-two and the cycle
// counts are positive.
func (c *TimingConfig) Validate() error {
	for _, g := range []struct {
		name  string
		value int
	}{
		{"icache_blocks", c.ICacheBlocks},
		{"icache_block_words", c.ICacheBlockWords},
		{"dcache_blocks", c.DCacheBlocks},
		{"dcache_block_words", c.DCacheBlockWords},
	} {
		if g.value <= 0 || g.value&(g.value-1) != 0 {
			return fmt.Errorf("%s must be a power of two, got %d", g.name, g.value)
		}
	}
	if c.ICacheFillCycles <= 0 {
		return fmt.Errorf("icache_fill_cycles must be > 0")
	}
	if c.DCacheFillCycles <= 0 {
		return fmt.Errorf("dcache_fill_cycles must be > 0")
	}
	if c.WriteDrainCycles <= 0 {
		return fmt.Errorf("write_drain_cycles must be > 0")
	}
	return nil
}
