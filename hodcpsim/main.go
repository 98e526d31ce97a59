// Command hodcpsim runs a simulated HODCP core: the nodes of a YAML topology
// and the core's sqlite log, served over websocket for weblinkd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duke1swd/weblinkGo/broker"
	weblink "github.com/duke1swd/weblinkGo/library"
	"github.com/duke1swd/weblinkGo/logger"
)

const defaultListen = ":1112"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hodcpsim:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("hodcpsim", flag.ContinueOnError)
	topologyPath := fs.String("config", "", "path to a YAML topology (default: built-in demo)")
	listen := fs.String("listen", defaultListen, "websocket listen address")
	dbPath := fs.String("db", "", "sqlite log database (default: in memory)")
	debug := fs.Bool("d", false, "debugging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := logger.DefaultConfig()
	if *debug {
		cfg.Debug = true
	}

	if err := logger.Init(cfg); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	log := logger.WithComponent("hodcpsim")

	topo := broker.DefaultTopology()
	if *topologyPath != "" {
		var err error

		topo, err = broker.LoadTopology(*topologyPath)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := broker.OpenLogStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Append(ctx, weblink.CoreURN, "Core.init", "Core instantiated"); err != nil {
		return err
	}

	core := broker.NewServer(topo, store, logger.GetLogger())
	srv := &http.Server{
		Addr:              *listen,
		Handler:           core,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	log.Info().Str("listen", *listen).Int("nodes", len(topo.Nodes)).Str("description", topo.Description).Msg("Core running")

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	core.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
