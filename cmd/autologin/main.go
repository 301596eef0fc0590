// Command autologin runs resumable batch sign-in over an account list.
// State lives in the ledger file; rerunning the same command continues
// where the previous run stopped.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autologin/internal/account"
	"autologin/internal/browser"
	"autologin/internal/config"
	"autologin/internal/errclass"
	"autologin/internal/exchange"
	"autologin/internal/ledger"
	"autologin/internal/logging"
	"autologin/internal/proxy"
	"autologin/internal/runner"
	"autologin/internal/selector"
	"autologin/internal/solver"
	"autologin/internal/tunnel"
	"autologin/internal/worker"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "autologin",
		Short:         "Resumable batch sign-in orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML)")
	root.AddCommand(newRunCmd(), newStatusCmd(), newResetCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		unattended bool
		parallel   int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the account list, resuming from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("unattended") {
				cfg.Unattended = unattended
			}
			if cmd.Flags().Changed("parallel") {
				cfg.Parallelism = parallel
			}
			return runBatch(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&unattended, "unattended", true, "fail immediately when the provider demands human verification")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "concurrent session workers")
	return cmd
}

func runBatch(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := logging.ParseLevel(cfg.LogLevel)
	log := logging.NewWithOptions("run", os.Stderr, level)

	accounts, err := account.Load(cfg.AccountsFile)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no usable accounts in %s", cfg.AccountsFile)
	}

	store, err := ledger.Open(cfg.LedgerFile, logging.NewWithOptions("ledger", os.Stderr, level))
	if err != nil {
		return err
	}

	proxies := proxy.NewPool(nil)
	if cfg.ProxiesFile != "" {
		if proxies, err = proxy.LoadPool(cfg.ProxiesFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load proxies: %w", err)
			}
			log.Warn("proxies file %s not found, running direct", cfg.ProxiesFile)
			proxies = proxy.NewPool(nil)
		}
	}

	circuit := tunnel.Nop()
	socksAddr := ""
	if cfg.TunnelEnabled {
		circuit = tunnel.NewController(cfg.TorControlAddr, cfg.TorControlPassword, logging.NewWithOptions("tunnel", os.Stderr, level))
		socksAddr = "127.0.0.1:9050"
	}

	tokens := solver.NewClient(cfg.SolverURL, cfg.PollInterval, cfg.SolveTimeout, logging.NewWithOptions("solver", os.Stderr, level))
	exchanger := exchange.New(cfg.ExchangeBaseURL, logging.NewWithOptions("exchange", os.Stderr, level))
	sessions := browser.NewRemoteFactory(cfg.WebDriverURL)

	w := worker.New(worker.Config{
		Unattended:       cfg.Unattended,
		TargetURL:        cfg.TargetURL,
		SiteKey:          cfg.SiteKey,
		SessionCookie:    cfg.SessionCookie,
		VerificationWait: cfg.VerificationWait,
		StepPauseMin:     cfg.DelayMin / 10,
		StepPauseMax:     cfg.DelayMax / 10,
	}, tokens, exchanger, sessions, store, logging.NewWithOptions("worker", os.Stderr, level))

	r := runner.New(runner.Config{
		Parallelism:    cfg.Parallelism,
		AccountTimeout: cfg.AccountTimeout,
		DelayMin:       cfg.DelayMin,
		DelayMax:       cfg.DelayMax,
		SocksAddr:      socksAddr,
	}, accounts, store, selector.Policy{MaxAttempts: cfg.MaxAttemptsPerAccount}, proxies, circuit, w, log)

	sum, runErr := r.Execute(ctx)
	printSummary(sum)
	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	return nil
}

func printSummary(sum runner.Summary) {
	fmt.Println(bold("run summary"))
	fmt.Printf("  %s %d\n", green("succeeded"), sum.Succeeded)
	fmt.Printf("  %s    %d\n", red("failed"), sum.Failed)
	fmt.Printf("  %s   %d\n", gray("skipped"), sum.Skipped)
	if len(sum.ByKind) > 0 {
		fmt.Println("  failures by kind:")
		kinds := make([]errclass.Kind, 0, len(sum.ByKind))
		for kind := range sum.ByKind {
			kinds = append(kinds, kind)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, kind := range kinds {
			fmt.Printf("    %-24s %d\n", kind, sum.ByKind[kind])
		}
	}
	fmt.Printf("  elapsed: %s\n", sum.Elapsed.Round(time.Second))
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-account progress from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg.LedgerFile, nil)
			if err != nil {
				return err
			}

			ids := ledgerIDs(store, cfg.AccountsFile)
			if len(ids) == 0 {
				fmt.Println(gray("ledger is empty"))
				return nil
			}

			var ok, failed, pending int
			fmt.Printf("%s  %-40s %-8s %-8s %s\n", bold("  "), bold("account"), bold("status"), bold("tries"), bold("detail"))
			for _, id := range ids {
				rec := store.Get(id)
				mark, label := statusBadge(rec.Status)
				detail := ""
				switch {
				case rec.LastError != nil:
					detail = fmt.Sprintf("%s: %s", rec.LastError.Kind, rec.LastError.Detail)
				case rec.Result != nil:
					detail = "session captured"
				}
				if len(detail) > 60 {
					detail = detail[:57] + "..."
				}
				fmt.Printf("%s  %-40s %-8s %-8d %s\n", mark, id, label, rec.Attempts, gray(detail))
				switch rec.Status {
				case ledger.StatusOK:
					ok++
				case ledger.StatusError:
					failed++
				default:
					pending++
				}
			}
			fmt.Printf("\n%d accounts: %s %d, %s %d, %s %d\n",
				len(ids), green("ok"), ok, red("error"), failed, yellow("pending"), pending)
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	var force, failedOnly bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe the ledger so the next run starts from scratch",
		Long: "Deletes the ledger file, which is the documented way to restart\n" +
			"the whole batch. With --failed, the file is kept and only error\n" +
			"records are cleared so those accounts retry on the next run; this\n" +
			"discards their attempt history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			if failedOnly {
				store, err := ledger.Open(cfg.LedgerFile, nil)
				if err != nil {
					return err
				}
				if !force && !confirm(fmt.Sprintf("clear failed records from %s?", store.Path())) {
					fmt.Println(gray("aborted"))
					return nil
				}
				removed, err := store.Prune(func(id string, rec ledger.Record) bool {
					return rec.Status != ledger.StatusError
				})
				if err != nil {
					return err
				}
				fmt.Printf("%s cleared %d failed record(s)\n", green("ok:"), removed)
				return nil
			}

			if !force && !confirm(fmt.Sprintf("delete ledger %s?", cfg.LedgerFile)) {
				fmt.Println(gray("aborted"))
				return nil
			}
			if err := ledger.Wipe(cfg.LedgerFile); err != nil {
				return err
			}
			fmt.Printf("%s ledger %s deleted\n", green("ok:"), cfg.LedgerFile)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "keep the ledger, clear only failed records")
	return cmd
}

// ledgerIDs merges the accounts file with the ledger so status covers both
// attempted and not-yet-attempted accounts, in stable order.
func ledgerIDs(store *ledger.Store, accountsFile string) []string {
	seen := map[string]bool{}
	var ids []string
	if accounts, err := account.Load(accountsFile); err == nil {
		for _, id := range account.IDs(accounts) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	ledgered := make([]string, 0, store.Len())
	for id := range store.Snapshot() {
		if !seen[id] {
			ledgered = append(ledgered, id)
		}
	}
	sort.Strings(ledgered)
	return append(ids, ledgered...)
}

func statusBadge(status ledger.Status) (mark, label string) {
	switch status {
	case ledger.StatusOK:
		return green("✓"), green("ok")
	case ledger.StatusError:
		return red("✗"), red("error")
	default:
		return yellow("·"), yellow("pending")
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
