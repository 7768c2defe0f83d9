// Package config loads the Core protocol's tunables (§6 "Configuration
// options") from command-line flags, overlaid with environment variables,
// the same two-library approach (pflag + go-envparse) R2Northstar-Atlas
// uses for its listen-section configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-envparse"
	flag "github.com/spf13/pflag"
)

// PopulationMode mirrors §6 SimplePingPopulationMode.
type PopulationMode int

const (
	PopulationTotal   PopulationMode = 1
	PopulationPlaying PopulationMode = 2
	PopulationBoth    PopulationMode = 3
)

// Listen is one {game socket, ping socket, virtual-zone name, client-type
// allowlist} tuple, per the GLOSSARY's "Listen data".
type Listen struct {
	Port        int
	BindAddress string
	ConnectAs   string
	AllowVIE    bool
	AllowCont   bool
}

// Config holds every tunable named in §6. Field names match the spec's
// option names so the mapping from doc to code is one-to-one.
type Config struct {
	DropTimeout      time.Duration
	MaxOutlistSize   int
	MaxRetries       int

	PlayerReliableReceiveWindowSize         int
	ClientConnectionReliableReceiveWindowSize int

	LimitReliableGrouping bool // true => maxRelGrouping=255, false => 520

	SizedQueueThreshold int
	SizedQueuePackets   int
	SizedSendOutgoing   bool

	PerPacketOverhead int

	MaxBigPacket int // cap on accumulated 0x08/0x09 big-data payload size

	PingRefreshThreshold  time.Duration
	SimplePingPopulation  PopulationMode

	ReliableThreads int

	Listens            []Listen
	InternalClientPort int
}

// Defaults returns the configuration with every §6 default applied.
func Defaults() Config {
	return Config{
		DropTimeout:            30000 * time.Millisecond,
		MaxOutlistSize:         500,
		MaxRetries:             15,
		PlayerReliableReceiveWindowSize:           32,
		ClientConnectionReliableReceiveWindowSize: 512,
		LimitReliableGrouping:  false,
		SizedQueueThreshold:    5,
		SizedQueuePackets:      25,
		SizedSendOutgoing:      true,
		PerPacketOverhead:      28,
		MaxBigPacket:           524288,
		PingRefreshThreshold:   2000 * time.Millisecond,
		SimplePingPopulation:   PopulationTotal,
		ReliableThreads:        1,
		Listens: []Listen{
			{Port: 5000, BindAddress: "", ConnectAs: "", AllowVIE: true, AllowCont: true},
		},
		InternalClientPort: 0,
	}
}

// Load parses CLI flags into fs (caller owns fs.Parse(os.Args[1:])) and then
// overlays any matching CORENET_* environment variables, consistent with the
// flags-then-env precedence Atlas documents for its own deployment configs.
func Load(fs *flag.FlagSet, envFile string) (Config, error) {
	cfg := Defaults()

	fs.DurationVar(&cfg.DropTimeout, "drop-timeout", cfg.DropTimeout, "no-data timeout before lagout")
	fs.IntVar(&cfg.MaxOutlistSize, "max-outlist-size", cfg.MaxOutlistSize, "max queued-but-unsent packets before lagout")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "max reliable retries before lagout")
	fs.IntVar(&cfg.PlayerReliableReceiveWindowSize, "player-window", cfg.PlayerReliableReceiveWindowSize, "reorder buffer capacity for player connections")
	fs.IntVar(&cfg.ClientConnectionReliableReceiveWindowSize, "client-conn-window", cfg.ClientConnectionReliableReceiveWindowSize, "reorder buffer capacity for outbound client connections")
	fs.BoolVar(&cfg.LimitReliableGrouping, "limit-reliable-grouping", cfg.LimitReliableGrouping, "cap combined-reliable frames at 255 bytes instead of 520")
	fs.IntVar(&cfg.SizedQueueThreshold, "sized-queue-threshold", cfg.SizedQueueThreshold, "max in-flight reliable chunks per sized send")
	fs.IntVar(&cfg.SizedQueuePackets, "sized-queue-packets", cfg.SizedQueuePackets, "chunks requested per sized-send callback")
	fs.BoolVar(&cfg.SizedSendOutgoing, "sized-send-outgoing", cfg.SizedSendOutgoing, "enable outgoing sized sends")
	fs.IntVar(&cfg.PerPacketOverhead, "per-packet-overhead", cfg.PerPacketOverhead, "bandwidth-limiter overhead charged per packet")
	fs.IntVar(&cfg.MaxBigPacket, "max-big-packet", cfg.MaxBigPacket, "max accumulated big-data payload size")
	fs.DurationVar(&cfg.PingRefreshThreshold, "ping-refresh-threshold", cfg.PingRefreshThreshold, "population snapshot refresh throttle")
	fs.IntVar(&cfg.ReliableThreads, "reliable-threads", cfg.ReliableThreads, "number of reliable-worker goroutines")

	var popMode int
	fs.IntVar(&popMode, "simple-ping-population-mode", int(cfg.SimplePingPopulation), "1=Total 2=Playing 3=Both(alternating)")

	if envFile != "" {
		if err := applyEnvFile(fs, envFile); err != nil {
			return cfg, err
		}
	}

	if popMode != 0 {
		cfg.SimplePingPopulation = PopulationMode(popMode)
	}
	return cfg, nil
}

// applyEnvFile reads KEY=VALUE pairs (go-envparse's format, shared with
// shell .env files) and sets any flag whose name, upper-cased and with '-'
// turned into '_', prefixed CORENET_, matches.
func applyEnvFile(fs *flag.FlagSet, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	vars, err := envparse.Parse(f)
	if err != nil {
		return fmt.Errorf("parse env file: %w", err)
	}

	fs.VisitAll(func(fl *flag.Flag) {
		key := "CORENET_" + flagToEnvName(fl.Name)
		if v, ok := vars[key]; ok {
			_ = fs.Set(fl.Name, v)
		}
	})
	return nil
}

func flagToEnvName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '-' {
			out = append(out, '_')
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// ParseIntEnv is a small helper used by cmd/zoned for options not worth a
// dedicated flag (kept here rather than inline so it's testable in isolation).
func ParseIntEnv(name string, fallback int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
