package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/httpapi"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/sim"
)

// Run wires together the simulator and its HTTP surface and serves until
// interrupted.
func Run(args []string) error {
	cfg, err := ParseConfig(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return Serve(ctx, cfg)
}

// Serve runs the simulation and the HTTP server until ctx is done.
func Serve(ctx context.Context, cfg Config) error {
	sc := cfg.SimConfig()
	s, err := sim.New(sc)
	if err != nil {
		return err
	}

	log.Printf("starting simulator on port %d: %d nodes, seed %d, tick %s", cfg.Port, cfg.Nodes, sc.Seed, cfg.TickInterval)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: httpapi.NewRouter(s),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		s.Run(runCtx, cfg.TickInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		cancel()
		<-simDone
		return err
	case <-ctx.Done():
		log.Println("shutting down...")
		cancel()
		<-simDone
		return srv.Shutdown(context.Background())
	}
}
