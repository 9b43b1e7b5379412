package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"brokersync/internal/broker"
	"brokersync/internal/bus"
)

// FetchFlag selects which collections are downloaded during Connect beyond
// positions, which are always fetched.
type FetchFlag uint8

const (
	FetchOpenOrders FetchFlag = 1 << iota
	FetchCompletedOrders
	FetchAccountUpdates
	FetchSubAccountUpdates
	FetchAccountSummary
	FetchExecutions

	// FetchNone skips every optional download; positions still sync.
	FetchNone FetchFlag = 0

	FetchAll = FetchOpenOrders | FetchCompletedOrders | FetchAccountUpdates |
		FetchSubAccountUpdates | FetchAccountSummary | FetchExecutions
)

// ErrSessionLost reports a connection that dropped before startup finished.
var ErrSessionLost = errors.New("session: connection lost during startup")

// startupRequestTimeout bounds each individual startup download when no
// session timeout is configured. One slow collection must not hold the whole
// connect hostage forever.
const startupRequestTimeout = 15 * time.Second

// Connect dials the broker, starts the read loop and synchronizes the local
// mirror. Independent collections download concurrently; per-account data goes
// serially because the protocol cannot attribute its end markers to a request.
// Sync failures are collected and logged, or returned when the session is
// configured to raise them; either way the mirror holds whatever arrived.
func (c *Client) Connect(ctx context.Context, fetch FetchFlag) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	c.metrics.Connects.Inc()

	sessCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	c.mu.Lock()
	c.ctx, c.cancel, c.runDone = sessCtx, cancel, runDone
	c.mu.Unlock()

	c.store.SetAccounts(c.transport.Accounts())
	if c.opts.IdleTimeout > 0 {
		wd := newWatchdog(c.opts.IdleTimeout, func(idle time.Duration) {
			c.log.Warn("connection idle", zap.Duration("idle", idle))
			c.pubsub.Publish(bus.Timeout, idle.Seconds())
		})
		c.mu.Lock()
		c.watchdog = wd
		c.mu.Unlock()
	}

	go func() {
		defer close(runDone)
		err := c.transport.Run(sessCtx, c.handleFrame)
		if sessCtx.Err() != nil {
			return
		}
		// unexpected drop: the session is gone, so is every pending request
		if err != nil {
			c.log.Error("read loop ended", zap.Error(err))
		}
		c.reset()
	}()

	if err := c.sync(sessCtx, fetch); err != nil {
		_ = c.Disconnect()
		return err
	}
	if !c.transport.IsReady() {
		_ = c.Disconnect()
		return ErrSessionLost
	}

	c.log.Info("session ready",
		zap.Int("serverVersion", c.transport.ServerVersion()),
		zap.Strings("accounts", c.store.Accounts()))
	c.pubsub.Publish(bus.Connected, nil)
	return nil
}

// syncStep runs one startup download under its own deadline. A download that
// would silently absorb its timeout still counts as failed here.
func (c *Client) syncStep(ctx context.Context, name string, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, startupRequestTimeout)
	defer cancel()
	stepCtx = context.WithValue(stepCtx, syncStepKey{}, struct{}{})
	err := fn(stepCtx)
	if err == nil && stepCtx.Err() != nil {
		err = stepCtx.Err()
	}
	if err != nil {
		return fmt.Errorf("sync %s: %w", name, err)
	}
	return nil
}

func (c *Client) sync(ctx context.Context, fetch FetchFlag) error {
	var errs error

	p := pool.New().WithErrors()
	p.Go(func() error {
		return c.syncStep(ctx, "positions", func(ctx context.Context) error {
			_, err := c.ReqPositions(ctx)
			return err
		})
	})
	if fetch&FetchOpenOrders != 0 && !c.opts.ReadOnly {
		p.Go(func() error {
			return c.syncStep(ctx, "open orders", func(ctx context.Context) error {
				_, err := c.ReqOpenOrders(ctx)
				return err
			})
		})
	}
	if fetch&FetchCompletedOrders != 0 && !c.opts.ReadOnly {
		p.Go(func() error {
			return c.syncStep(ctx, "completed orders", func(ctx context.Context) error {
				_, err := c.ReqCompletedOrders(ctx)
				return err
			})
		})
	}
	if fetch&FetchAccountSummary != 0 {
		p.Go(func() error {
			return c.syncStep(ctx, "account summary", func(ctx context.Context) error {
				_, err := c.ReqAccountSummary(ctx)
				return err
			})
		})
	}
	errs = multierr.Append(errs, p.Wait())

	if fetch&FetchAccountUpdates != 0 {
		errs = multierr.Append(errs, c.syncPrimaryAccount(ctx))
	}
	if fetch&FetchSubAccountUpdates != 0 {
		errs = multierr.Append(errs, c.syncAccounts(ctx))
	}

	// executions go last: fills want their trades mirrored first
	if fetch&FetchExecutions != 0 {
		errs = multierr.Append(errs, c.syncStep(ctx, "executions", func(ctx context.Context) error {
			_, err := c.ReqExecutions(ctx, broker.ExecutionFilter{})
			return err
		}))
	}

	if errs != nil {
		if c.opts.RaiseSyncErrors {
			return errs
		}
		c.log.Warn("partial startup sync", zap.Error(errs))
	}
	return nil
}

// syncPrimaryAccount downloads account values for the pinned account, or the
// sole account when none is pinned. With several accounts and no pin there is
// no primary to pick, so nothing downloads.
func (c *Client) syncPrimaryAccount(ctx context.Context) error {
	account := c.opts.Account
	if account == "" {
		if accounts := c.store.Accounts(); len(accounts) == 1 {
			account = accounts[0]
		}
	}
	if account == "" {
		return nil
	}
	return c.syncStep(ctx, "account "+account, func(ctx context.Context) error {
		return c.ReqAccountUpdates(ctx, account)
	})
}

// syncAccounts downloads account values one account at a time. The download
// end marker does not say which account it closes, so overlapping downloads
// would be unattributable.
func (c *Client) syncAccounts(ctx context.Context) error {
	accounts := c.store.Accounts()
	if len(accounts) > c.opts.MaxSyncedSubAccounts {
		c.log.Warn("too many sub-accounts, skipping account sync",
			zap.Int("accounts", len(accounts)),
			zap.Int("max", c.opts.MaxSyncedSubAccounts))
		return nil
	}
	var errs error
	for _, account := range accounts {
		account := account
		errs = multierr.Append(errs, c.syncStep(ctx, "account "+account, func(ctx context.Context) error {
			return c.ReqAccountUpdates(ctx, account)
		}))
	}
	return errs
}
