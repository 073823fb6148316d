package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ctfbot.ai/internal/bot"
	"ctfbot.ai/internal/config"
	"ctfbot.ai/internal/liveness"
	"ctfbot.ai/internal/logging"
	"ctfbot.ai/internal/persistence/journal"
	"ctfbot.ai/internal/persistence/statsdb"
	"ctfbot.ai/internal/record"
	"ctfbot.ai/internal/transport/ws"
)

var (
	tokenFlag  string
	noWatch    bool
	statsEvery time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the gateway and play until interrupted or kicked",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runBot(ctx)
	},
}

func init() {
	runCmd.Flags().StringVar(&tokenFlag, "token", os.Getenv("CTFBOT_TOKEN"), "gateway auth token (default $CTFBOT_TOKEN)")
	runCmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	runCmd.Flags().DurationVar(&statsEvery, "stats-every", time.Minute, "log connection and stats queue health this often (0 disables)")
}

var newWatcher = config.NewWatcher

func runBot(ctx context.Context) error {
	runID := uuid.NewString()
	log := logger.With(zap.String("run_id", runID))
	store := config.NewStore(cfg)

	var sinks record.Multi
	if !cfg.Journal.Disabled {
		j := journal.Open(cfg.Journal.Dir, log.Named("journal"))
		defer j.Close()
		sinks = append(sinks, j)
	}
	var db *statsdb.DB
	if !cfg.Stats.Disabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Stats.Path), 0o755); err != nil {
			return err
		}
		var err error
		db, err = statsdb.Open(cfg.Stats.Path)
		if err != nil {
			return fmt.Errorf("open stats db: %w", err)
		}
		defer db.Close()
		db.BeginRun(statsdb.Run{ID: runID, Username: cfg.Server.Name, StartedAt: time.Now()})
		sinks = append(sinks, db)
	}

	session := ws.NewSession(ws.Config{
		URL:              cfg.Server.URL,
		Name:             cfg.Server.Name,
		Token:            tokenFlag,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		MoveWait:         cfg.Loop.MoveWait,
	}, log.Named("ws"))

	b := bot.New(bot.Options{
		Platform: session,
		Tracker:  liveness.New(),
		Config:   store,
		Sink:     sinks,
		Log:      log,
		RunID:    runID,
	})

	log.Info("starting",
		zap.String("url", cfg.Server.URL),
		zap.String("name", cfg.Server.Name),
		zap.Strings("ladder", cfg.Strategy.Ladder))

	// Everything that can fail is built before the first goroutine starts.
	var watcher *config.Watcher
	if !noWatch {
		if _, err := os.Stat(configPath); err == nil {
			w, err := newWatcher(configPath, store, log.Named("config"))
			if err != nil {
				return fmt.Errorf("watch config: %w", err)
			}
			w.Overlay = applyFlags
			w.OnReload = func(c config.Config, v uint64) {
				if c.Log.Level == "" || verbose {
					return
				}
				if lvl, err := logging.ParseLevel(c.Log.Level); err == nil {
					logLevel.SetLevel(lvl)
				}
			}
			watcher = w
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(gctx) })
	// The bot drains events until the session closes the stream.
	g.Go(func() error { return b.Run(context.WithoutCancel(gctx)) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if statsEvery > 0 {
		g.Go(func() error {
			t := time.NewTicker(statsEvery)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					logHealth(log, session, db)
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, ws.ErrKicked) {
		log.Warn("kicked by the gateway", zap.Error(err))
		return err
	}
	if err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

func logHealth(log *zap.Logger, session *ws.Session, db *statsdb.DB) {
	st := session.Status()
	fields := []zap.Field{
		zap.Bool("connected", st.Connected),
		zap.Uint64("last_tick", st.LastObsTick),
	}
	if st.LastError != "" {
		fields = append(fields, zap.String("last_error", st.LastError))
	}
	if db != nil {
		qs := db.Stats()
		fields = append(fields,
			zap.Int("stats_queue", qs.QueueDepth),
			zap.Uint64("dropped_iterations", qs.DropIterationTotal),
			zap.Uint64("dropped_events", qs.DropEventTotal))
	}
	log.Debug("health", fields...)
}
