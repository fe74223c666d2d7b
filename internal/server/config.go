package server

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/bus"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/history"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/raft"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/sim"
)

// Config is the parsed command line of the simulator server.
type Config struct {
	Port               int
	Nodes              int
	Seed               int64
	TickInterval       time.Duration
	Speed              float64
	TransitRate        float64
	HeartbeatRate      float64
	ElectionTimeoutMin float64
	ElectionTimeoutMax float64
	History            int
	Paused             bool
}

// ParseConfig parses args (without the program name).
func ParseConfig(args []string) (Config, error) {
	fs := flag.NewFlagSet("raftsim", flag.ContinueOnError)

	var cfg Config
	fs.IntVar(&cfg.Port, "port", 8080, "HTTP listen port")
	fs.IntVar(&cfg.Nodes, "nodes", 5, "Number of simulated nodes")
	fs.Int64Var(&cfg.Seed, "seed", 0, "PRNG seed (0 picks one from the clock)")
	fs.DurationVar(&cfg.TickInterval, "tick", 50*time.Millisecond, "Wall-clock time between ticks")
	fs.Float64Var(&cfg.Speed, "speed", 1, "Initial speed multiplier")
	fs.Float64Var(&cfg.TransitRate, "transit-rate", bus.DefaultRate, "Message progress per tick at speed 1")
	timing := raft.DefaultTimingConfig()
	fs.Float64Var(&cfg.HeartbeatRate, "heartbeat-rate", timing.HeartbeatRate, "Leader heartbeat timer increment per tick")
	fs.Float64Var(&cfg.ElectionTimeoutMin, "election-timeout-min", timing.ElectionTimeoutMin, "Shortest election timeout in ticks")
	fs.Float64Var(&cfg.ElectionTimeoutMax, "election-timeout-max", timing.ElectionTimeoutMax, "Longest election timeout in ticks")
	fs.IntVar(&cfg.History, "history", history.DefaultCapacity, "Number of events kept")
	fs.BoolVar(&cfg.Paused, "paused", false, "Start paused")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Nodes < 1 {
		errs = append(errs, sim.ErrInvalidNodeCount)
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if !(c.Speed > 0) {
		errs = append(errs, sim.ErrInvalidSpeed)
	}
	if !(c.TransitRate > 0) {
		errs = append(errs, sim.ErrInvalidTransitRate)
	}
	if err := c.timing().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SimConfig converts c into the engine configuration.
func (c Config) SimConfig() sim.Config {
	sc := sim.DefaultConfig()
	sc.Nodes = c.Nodes
	sc.Seed = c.Seed
	if sc.Seed == 0 {
		sc.Seed = time.Now().UnixNano()
	}
	sc.Speed = c.Speed
	sc.TransitRate = c.TransitRate
	sc.Timing = c.timing()
	sc.HistoryCapacity = c.History
	sc.Paused = c.Paused
	return sc
}

func (c Config) timing() raft.TimingConfig {
	return raft.TimingConfig{
		ElectionTimeoutMin: c.ElectionTimeoutMin,
		ElectionTimeoutMax: c.ElectionTimeoutMax,
		HeartbeatRate:      c.HeartbeatRate,
	}
}
