// sfstream subscribes to Salesforce streaming channels and logs every event
// it receives until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/sigmavirus24/sfstreaming"
	"github.com/sigmavirus24/sfstreaming/extensions/replay"
	"github.com/sigmavirus24/sfstreaming/extensions/salesforce"
)

type presetter interface {
	replay.Storer
	Set(ctx context.Context, channel sfstreaming.Channel, replayID replay.ReplayID) error
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	fetcher, err := cfg.fetcher()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	engineOpts := []sfstreaming.Option{sfstreaming.WithLogger(logger)}
	if cfg.Version != "" {
		engineOpts = append(engineOpts, sfstreaming.WithVersion(cfg.Version))
	}
	client, err := salesforce.New(fetcher,
		salesforce.WithReplayStore(store),
		salesforce.WithEngineOptions(engineOpts...),
	)
	if err != nil {
		return err
	}
	logger.Debug("got client")

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		<-signals
		logger.Info("stopping after the current long-poll, interrupt again to abort")
		client.AskStop()
		<-signals
		cancel()
	}()

	return client.Run(ctx, func(ctx context.Context) error {
		for _, name := range cfg.Channels {
			channel := sfstreaming.Channel(name)
			if replayID, ok := cfg.preset(); ok {
				if err := store.Set(ctx, channel, replayID); err != nil {
					return err
				}
			}
			response, err := client.Subscribe(ctx, channel)
			if err != nil {
				return err
			}
			if !sfstreaming.Succeeded(response) {
				entry := logger.WithField("channel", channel)
				if len(response) > 0 {
					entry = entry.WithField("reason", response[0].FailureReason()).WithField("error", response[0].Error)
				}
				entry.Warn("subscription refused")
				continue
			}
			logger.WithField("channel", channel).Info("subscribed")
		}

		for m, err := range client.Events(ctx) {
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"channel": m.Channel,
				"data":    string(m.Data),
			}).Info()
		}
		return nil
	})
}

func newStore(ctx context.Context, cfg config) (presetter, error) {
	if cfg.Backend == backendRedis {
		return replay.NewRedisStorage(ctx, replay.RedisConfigFromEnv())
	}
	return replay.NewMapStorage(), nil
}

func closeStore(store presetter, logger logrus.FieldLogger) {
	closer, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.WithError(err).Warn("error closing replay store")
	}
}
