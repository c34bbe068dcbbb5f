package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MatusOllah/slogcolor"

	"github.com/kabili207/meshlink/pkg/bridge"
	"github.com/kabili207/meshlink/pkg/config"
	"github.com/kabili207/meshlink/pkg/radio"
	"github.com/kabili207/meshlink/pkg/radio/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if cfg.Radio.Address == "" {
		log.Error("no radio address configured, set radio.address")
		os.Exit(1)
	}

	client := radio.NewClient(radio.Options{
		ReconnectMaxAttempts: cfg.Session.ReconnectMaxAttempts,
		ReconnectDelay:       cfg.Session.ReconnectDelay,
		DrainEmptyStreak:     cfg.Session.DrainEmptyStreak,
		DrainInterval:        cfg.Session.DrainInterval,
		DrainBudget:          cfg.Session.DrainBudget,
		PollInterval:         cfg.Session.PollInterval,
		AckTimeout:           cfg.Messaging.AckTimeout,
	}, log)
	defer client.Close()

	br := bridge.New(client, bridge.Settings{
		Enabled:      cfg.Bridge.Enabled,
		Region:       cfg.Bridge.Region,
		RootOverride: cfg.Bridge.RootOverride,
		ClientID:     cfg.Bridge.ClientID,
	}, log.With("component", "bridge"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := br.Run(ctx); err != nil {
			log.Error("broker bridge stopped", "error", err)
		}
	}()

	events, unsubscribe := client.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			logEvent(log, ev)
		}
	}()

	log.Info("connecting to radio", "address", cfg.Radio.Address, "adapter", cfg.Radio.Adapter)
	t := transport.NewBLE(cfg.Radio.Address, cfg.Radio.Adapter, log.With("component", "ble"))
	if err := client.Connect(ctx, t); err != nil {
		log.Error("connecting to radio", "error", err)
		stop()
		unsubscribe()
		wg.Wait()
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutting down")
	client.Disconnect()
	unsubscribe()
	wg.Wait()
}

func newLogger(level string) *slog.Logger {
	opts := slogcolor.DefaultOptions
	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}
	return slog.New(slogcolor.NewHandler(os.Stderr, opts))
}

// logEvent surfaces the interesting parts of the event stream in the daemon
// log; library consumers would subscribe themselves instead.
func logEvent(log *slog.Logger, ev radio.Event) {
	switch ev.Kind {
	case radio.EventLocalIdentity:
		log.Info("local identity",
			"node", ev.Identity.NodeNum,
			"long_name", ev.Identity.LongName,
			"short_name", ev.Identity.ShortName)
	case radio.EventMessageReceived:
		log.Info("message received",
			"from", ev.Message.From,
			"channel", ev.Message.Channel,
			"text", ev.Message.Text)
	case radio.EventMessageDeliveryUpdated:
		log.Info("delivery updated",
			"packet_id", ev.Message.PacketID,
			"status", ev.Message.Status)
	case radio.EventError:
		log.Error("session error", "error", ev.Err)
	}
}
