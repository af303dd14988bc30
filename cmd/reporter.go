package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/internal/collective"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/store"
)

const defaultReporterDrain = 10 * time.Second

// reporter owns the trace sinks of a command. A reporter without sinks has a
// nil dispatcher.
type reporter struct {
	dispatcher *collective.Dispatcher
	pool       *pgxpool.Pool
	logger     *zap.Logger
}

// newPool is replaced in tests.
var newPool = pgxpool.New

// newReporter wires collective memory and the trace store, whichever are configured.
func newReporter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*reporter, error) {
	r := &reporter{logger: logger}
	var sinks []collective.Sink

	if cfg.CollectiveMemory.Enabled() {
		sinks = append(sinks, collective.NewHTTPSink(cfg.CollectiveMemory, logger))
		logger.Info("Collective memory enabled", zap.String("endpoint", cfg.CollectiveMemory.Endpoint))
	}

	if cfg.Database.URL != "" {
		pool, err := newPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		r.pool = pool
		sinks = append(sinks, st)
		logger.Info("Trace store enabled")
	}

	if len(sinks) > 0 {
		r.dispatcher = collective.NewDispatcher(logger, sinks,
			collective.WithQueueSize(cfg.CollectiveMemory.QueueSize),
			collective.WithSendTimeout(cfg.CollectiveMemory.Timeout))
	}
	return r, nil
}

// close drains queued traces for at most timeout, then releases the pool.
func (r *reporter) close(timeout time.Duration) {
	if r.dispatcher != nil {
		if timeout <= 0 {
			timeout = defaultReporterDrain
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.dispatcher.Close(ctx); err != nil {
			r.logger.Warn("Pending traces were not delivered", zap.Error(err))
		}
	}
	if r.pool != nil {
		r.pool.Close()
	}
}
