// Command zoned is a demonstration process wiring config, logging,
// telemetry, and the Core protocol engine into a working zone-server-shaped
// binary (SPEC_FULL.md §0), the role the teacher's core/main.go played for
// the RakNet server.
package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	flag "github.com/spf13/pflag"

	"zonecore/internal/arena"
	"zonecore/internal/config"
	"zonecore/internal/core"
	"zonecore/internal/crypt"
	"zonecore/internal/events"
	"zonecore/internal/lagstats"
	"zonecore/internal/limiter"
	"zonecore/internal/logging"
	"zonecore/internal/playermgr"
	"zonecore/internal/wire"
)

func main() {
	fs := flag.NewFlagSet("zoned", flag.ExitOnError)
	envFile := fs.String("env-file", "", "optional .env-style overlay file")
	metricsAddr := fs.String("metrics-addr", ":9090", "address to serve /metrics on")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs, *envFile)
	if err != nil {
		logging.Error().Err(err).Msg("zoned: failed to load configuration")
		os.Exit(1)
	}

	logging.Info().Int("listens", len(cfg.Listens)).Msg("zoned: starting")

	arenas := arena.NewInMemory()
	arenas.SetArena(cfg.Listens[0].ConnectAs+"#1", 0, 0)

	lag := lagstats.NewInMemory()

	players := playermgr.NewInMemory(func(p *playermgr.Player, reason string) {
		logging.Info().Uint64("player", uint64(p.ID())).Str("reason", reason).Msg("zoned: player kicked")
	})

	cryptoRegistry := crypt.NewRegistry()
	cryptoRegistry.Register("none", func() (crypt.Encryptor, error) {
		return crypt.Identity{}, nil
	})

	newLimiter := func() limiter.Limiter {
		return limiter.NewSimple(64*1024, 4, 256)
	}

	engine, err := core.NewEngine(cfg, players, arenas, lag, cryptoRegistry, newLimiter)
	if err != nil {
		logging.Error().Err(err).Msg("zoned: failed to construct engine")
		os.Exit(1)
	}

	engine.Bus().Subscribe(events.ConnectionTornDown, func(ev events.Event) {
		conn, ok := ev.Data.(*core.Connection)
		if !ok || conn.Player == nil {
			return
		}
		players.Remove(conn.Player)
	})

	engine.AppendConnectionInitHandler(func(e *core.Engine, remote *net.UDPAddr, l *core.ListenData, buf []byte) bool {
		if !wire.IsConnectionInit(buf) {
			return false
		}
		encName := "none"
		if buf[1] == wire.InitCont {
			encName = "none" // a real deployment would negotiate "cont" here
		}
		if _, err := e.NewConnection(0, remote, encName, l); err != nil {
			logging.Warn().Err(err).Str("remote", remote.String()).Msg("zoned: rejected connection-init")
			return true
		}
		resp := []byte{0x00, wire.KeyResponse}
		_ = e.ReallyRawSend(remote, resp, 0)
		return true
	})

	go func() {
		http.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.WritePrometheus(w, true)
		}))
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logging.Warn().Err(err).Msg("zoned: metrics server stopped")
		}
	}()

	if err := engine.Start(); err != nil {
		logging.Error().Err(err).Msg("zoned: failed to start engine")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logging.Warn().Str("signal", sig.String()).Msg("zoned: shutting down")

	engine.Shutdown()
	time.Sleep(100 * time.Millisecond)
	logging.Info().Msg("zoned: stopped")
}
