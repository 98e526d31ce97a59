// Command weblinkd is the HODCP control panel. It keeps one websocket link
// to the broker and serves the node table and log at an HTTP address.
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

	weblink "github.com/duke1swd/weblinkGo/library"
	"github.com/duke1swd/weblinkGo/logger"
)

const (
	mqttConnectTimeout = 10 * time.Second
	shutdownTimeout    = 2 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "weblinkd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("weblinkd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML options file")
	broker := fs.String("broker", "", "broker websocket URL (overrides config and WEBLINK_BROKER)")
	listen := fs.String("listen", "", "HTTP listen address (overrides config and WEBLINK_LISTEN)")
	debug := fs.Bool("d", false, "debugging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	opts, err := weblink.LoadOptions(*configPath)
	if err != nil {
		return err
	}

	if *broker != "" {
		opts.Broker = *broker
	}

	if *listen != "" {
		opts.Listen = *listen
	}

	if *debug {
		opts.Logging.Debug = true
	}

	if err := opts.Validate(); err != nil {
		return err
	}

	if err := logger.Init(opts.Logging); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link := weblink.NewLink(weblink.LinkOptions{
		URL:         opts.Broker,
		Subprotocol: opts.Subprotocol,
		Identity:    opts.Identity(),
		DialTimeout: opts.DialTimeout,
		Logger:      log,
	})

	panel := weblink.NewPanel(link, weblink.PanelOptions{
		Identity:   opts.Identity(),
		LogRefresh: opts.LogRefresh,
		Logger:     log,
	})
	link.Register(panel.Receive)

	mirrorDone := make(chan struct{})
	if opts.MQTT.Enabled {
		mirror := weblink.NewMirror(weblink.MirrorOptions{
			Broker:    opts.MQTT.Broker,
			TopicBase: opts.MQTT.TopicBase,
			Logger:    log,
		})

		if err := mirror.Connect(mqttConnectTimeout); err != nil {
			return err
		}

		panel.AddObserver(mirror)

		go func() {
			mirror.Run(ctx)
			close(mirrorDone)
		}()
	} else {
		close(mirrorDone)
	}

	if err := link.Connect(ctx); err != nil {
		return err
	}
	defer link.Close()

	srv := &http.Server{
		Addr:              opts.Listen,
		Handler:           newHandler(panel, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("listen", opts.Listen).Msg("Serving panel")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	err = panel.Run(ctx)

	// The link may have gone first; make sure the mirror winds down too.
	stop()
	<-mirrorDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("HTTP shutdown")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
