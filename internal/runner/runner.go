// Package runner owns one batch run: it builds the work queue once,
// fans accounts out to session workers, and reports the tally. Retry
// across runs is the ledger's job; the runner never re-attempts an
// account inside a run.
package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"autologin/internal/account"
	"autologin/internal/errclass"
	"autologin/internal/ledger"
	"autologin/internal/logging"
	"autologin/internal/proxy"
	"autologin/internal/selector"
	"autologin/internal/tunnel"
	"autologin/internal/worker"
)

// AttemptRunner is the session worker as the runner sees it.
type AttemptRunner interface {
	Run(ctx context.Context, att worker.Attempt) (ledger.Record, error)
}

// Config tunes one run.
type Config struct {
	// Parallelism bounds concurrent session workers. Values below 1 run
	// sequentially.
	Parallelism int
	// AccountTimeout caps one account's whole attempt.
	AccountTimeout time.Duration
	// DelayMin/Max bound the randomized pause a worker takes after
	// finishing an account. Zero max disables the pause.
	DelayMin time.Duration
	DelayMax time.Duration
	// SocksAddr routes browser sessions through the tunnel when set.
	SocksAddr string
}

// Summary is the end-of-run tally.
type Summary struct {
	Queued    int
	Skipped   int
	Succeeded int
	Failed    int
	ByKind    map[errclass.Kind]int
	Elapsed   time.Duration
}

// Runner executes one batch run over a fixed account list.
type Runner struct {
	cfg      Config
	accounts []account.Account
	store    *ledger.Store
	policy   selector.Policy
	proxies  *proxy.Pool
	circuit  tunnel.Circuit
	worker   AttemptRunner
	logger   logging.Logger
}

// New assembles a runner. circuit may be tunnel.Nop() for direct runs.
func New(cfg Config, accounts []account.Account, store *ledger.Store, policy selector.Policy, proxies *proxy.Pool, circuit tunnel.Circuit, w AttemptRunner, logger logging.Logger) *Runner {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if proxies == nil {
		proxies = proxy.NewPool(nil)
	}
	if circuit == nil {
		circuit = tunnel.Nop()
	}
	return &Runner{
		cfg:      cfg,
		accounts: accounts,
		store:    store,
		policy:   policy,
		proxies:  proxies,
		circuit:  circuit,
		worker:   w,
		logger:   logging.OrNop(logger),
	}
}

// Execute runs the batch to completion or until ctx is canceled. Queue
// membership is decided once, up front; accounts finishing during the run
// never re-enter. A canceled ctx stops cleanly between accounts, and the
// partial tally is still returned.
func (r *Runner) Execute(ctx context.Context) (Summary, error) {
	start := time.Now()

	queue := selector.BuildQueue(account.IDs(r.accounts), r.store, r.policy)
	byID := account.ByID(r.accounts)

	sum := Summary{
		Queued:  len(queue),
		Skipped: len(r.accounts) - len(queue),
		ByKind:  map[errclass.Kind]int{},
	}
	r.logger.Info("run start: %d queued, %d skipped, parallelism %d", sum.Queued, sum.Skipped, r.cfg.Parallelism)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)

	for _, id := range queue {
		acct, ok := byID[id]
		if !ok {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			rec := r.runOne(gctx, acct)
			mu.Lock()
			if rec.Status == ledger.StatusOK {
				sum.Succeeded++
			} else {
				sum.Failed++
				if rec.LastError != nil {
					sum.ByKind[rec.LastError.Kind]++
				}
			}
			mu.Unlock()
			r.cooldown(gctx)
			return nil
		})
	}
	_ = g.Wait()

	sum.Elapsed = time.Since(start)
	r.logger.Info("run done in %s: %d ok, %d failed, %d skipped", sum.Elapsed.Round(time.Second), sum.Succeeded, sum.Failed, sum.Skipped)
	for kind, n := range sum.ByKind {
		r.logger.Info("  %s: %d", kind, n)
	}
	return sum, ctx.Err()
}

// runOne drives a single account: fresh circuit, next proxy, bounded
// attempt. Worker failures land in the ledger, not here; only a ledger
// write fault surfaces as an error and even that never aborts the run.
func (r *Runner) runOne(ctx context.Context, acct account.Account) ledger.Record {
	if err := r.circuit.Renew(ctx); err != nil {
		// A stale circuit degrades anonymity, not correctness.
		r.logger.Warn("[%s] circuit renewal failed: %v", acct.ID, err)
	}

	att := worker.Attempt{
		Account:   acct,
		ProxyAddr: r.proxies.Next(),
		SocksAddr: r.cfg.SocksAddr,
	}

	actx := ctx
	if r.cfg.AccountTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.cfg.AccountTimeout)
		defer cancel()
	}

	rec, err := r.worker.Run(actx, att)
	if err != nil {
		r.logger.Error("[%s] recording attempt: %v", acct.ID, err)
	}
	return rec
}

// cooldown pauses a randomized interval before the worker slot frees up.
func (r *Runner) cooldown(ctx context.Context) {
	if r.cfg.DelayMax <= 0 {
		return
	}
	d := r.cfg.DelayMin
	if span := r.cfg.DelayMax - r.cfg.DelayMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
