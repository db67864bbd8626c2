// reducer-run executes one reducer invocation from the command line: load a
// compiled module, resolve its queries against a SQLite database, print the
// effects it produced and optionally apply them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftsync/reducer-runtime/host"
	"github.com/driftsync/reducer-runtime/protocol"
	"github.com/driftsync/reducer-runtime/sqlite"
)

type options struct {
	db          string
	args        string
	apply       bool
	timeout     time.Duration
	memoryPages uint32
	verbose     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "reducer-run <module.wasm>",
		Short: "Run one reducer invocation against a SQLite database",
		Long: `reducer-run loads a compiled reducer module, starts an invocation, resolves
every query the reducer suspends on against the given SQLite database, and
prints the mutation effects the invocation produced. Effects are only written
back with --apply.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], &opts)
		},
	}

	cmd.Flags().StringVar(&opts.db, "db", ":memory:", "SQLite DSN to resolve queries against")
	cmd.Flags().StringVar(&opts.args, "args", "", "invocation arguments passed to the reducer")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "apply the produced effects to the database")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "invocation deadline (0 = none)")
	cmd.Flags().Uint32Var(&opts.memoryPages, "memory-pages", 1024, "linear memory limit in 64KiB pages (0 = engine default)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every guest entry and query")

	return cmd
}

func run(ctx context.Context, wasmPath string, opts *options) error {
	logger := zap.NewNop()
	if opts.verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
	}
	defer logger.Sync()
	host.SetLogger(logger)

	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	engine, err := host.NewEngine(ctx, &host.Config{MemoryLimitPages: opts.memoryPages})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer engine.Close(context.Background())

	mod, err := engine.Load(ctx, wasmBytes)
	if err != nil {
		return err
	}
	defer mod.Close(context.Background())

	db, err := sqlite.Open(opts.db)
	if err != nil {
		return err
	}
	defer db.Close()

	driver := host.NewDriver(host.WithLogger(logger), host.WithTimeout(opts.timeout))
	res, err := driver.Invoke(ctx, mod, []byte(opts.args), sqlite.NewProvider(db))
	if err != nil {
		return err
	}

	if res.Failure != nil {
		return fmt.Errorf("reducer failed: %s", res.Failure.Error())
	}

	printEffects(res.Effects)

	if opts.apply {
		if err := sqlite.ApplyEffects(ctx, db, res.Effects); err != nil {
			return err
		}
		fmt.Println("applied")
	}
	return nil
}

func printEffects(effects *protocol.Effects) {
	if effects == nil || len(effects.Statements) == 0 {
		fmt.Println("no effects")
		return
	}
	fmt.Printf("effects (%d statements):\n", len(effects.Statements))
	for i, st := range effects.Statements {
		fmt.Printf("  %d. %s", i+1, st.SQL)
		if len(st.Params) > 0 {
			fmt.Print(" [")
			for j, p := range st.Params {
				if j > 0 {
					fmt.Print(", ")
				}
				fmt.Print(p.String())
			}
			fmt.Print("]")
		}
		fmt.Println()
	}
}
