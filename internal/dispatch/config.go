package dispatch

import (
	"fmt"
	"time"
)

// Mode selects how a chunk is sent to the provider.
type Mode string

const (
	// Sequential sends each chunk as one batch call.
	Sequential Mode = "sequential"
	// Concurrent translates a chunk's segments with parallel single calls.
	Concurrent Mode = "concurrent"
)

type TwoPhase struct {
	Enabled bool
	// InitialBatch is how many pending segments phase 1 covers.
	InitialBatch int
	ReadyPercent int
}

type Config struct {
	ChunkSize    int
	Mode         Mode
	Concurrency  int
	ChunkDelay   time.Duration
	ContextLines int
	TwoPhase     TwoPhase
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:    15,
		Mode:         Sequential,
		Concurrency:  4,
		ChunkDelay:   500 * time.Millisecond,
		ContextLines: 3,
		TwoPhase: TwoPhase{
			Enabled:      false,
			InitialBatch: 10,
			ReadyPercent: 70,
		},
	}
}

func (c Config) Validate() error {
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be greater than 0")
	}
	switch c.Mode {
	case Sequential:
	case Concurrent:
		if c.Concurrency < 1 {
			return fmt.Errorf("concurrency must be greater than 0 in concurrent mode")
		}
	default:
		return fmt.Errorf("unknown chunk mode %q", c.Mode)
	}
	if c.ChunkDelay < 0 {
		return fmt.Errorf("chunk delay must not be negative")
	}
	if c.ContextLines < 0 {
		return fmt.Errorf("context lines must not be negative")
	}
	if c.TwoPhase.Enabled {
		if c.TwoPhase.InitialBatch < 1 {
			return fmt.Errorf("two-phase initial batch must be greater than 0")
		}
		if c.TwoPhase.ReadyPercent < 1 || c.TwoPhase.ReadyPercent > 99 {
			return fmt.Errorf("two-phase ready percent must be between 1 and 99")
		}
	}
	return nil
}
