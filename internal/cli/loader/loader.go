// Package loader implements the cockroach-loader command: it attaches to a
// running process, stops all of its threads and waits for a planted trap.
package loader

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/cockroach/internal/attach"
	"github.com/coral-mesh/cockroach/internal/logging"
	"github.com/coral-mesh/cockroach/internal/recipe"
	"github.com/coral-mesh/cockroach/internal/sys/proc"
)

// DefaultLibPath is the instrumentation module name used when
// --cockroach-lib-path is not given.
const DefaultLibPath = "cockroach.so"

type options struct {
	recipePath string
	libPath    string
	trapAddr   hexAddress
	format     string
	logLevel   string
	logPretty  bool
}

// Hooks for tests.
var (
	newTracer = func() (attach.Tracer, func()) {
		t := attach.NewPtraceTracer()
		return t, t.Release
	}
	inspect = inspectTarget
)

// listThreads overrides the session's thread enumeration when set.
var listThreads attach.ThreadLister

// NewCommand returns the loader command. It is used as the root of the
// cockroach-loader binary.
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "cockroach-loader [options] --recipe <path> --install-trap-addr <hex> <pid>",
		Short: "Stop a running process and wait for it to reach a trap",
		Long: `Attach to every thread of a running process, plant an int3 at
--install-trap-addr and block until a thread executes it.

The exit status is 0 only once the trap fired. The trap byte is left in
place and threads are not detached explicitly.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			format, err := ParseOutputFormat(opts.format)
			if err != nil {
				return err
			}

			logger := logging.NewWithComponent(logging.Config{
				Level:  opts.logLevel,
				Pretty: opts.logPretty,
				Output: cmd.ErrOrStderr(),
			}, "loader")

			report, err := run(cmd.Context(), logger, opts, pid)
			if err != nil {
				return err
			}

			output, err := NewFormatter(format).FormatReport(report)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			if err := WriteOutput(cmd.OutOrStdout(), output); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.recipePath, "recipe", "", "Recipe file applied by the instrumentation module (required)")
	cmd.Flags().StringVar(&opts.libPath, "cockroach-lib-path", DefaultLibPath, "Path of the instrumentation module")
	cmd.Flags().Var(&opts.trapAddr, "install-trap-addr", "Address to plant the trap at, in hex (required)")
	cmd.Flags().StringVar(&opts.format, "format", string(FormatText), "Report format (text, json, yaml)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.logPretty, "log-pretty", logging.IsTerminal(os.Stderr), "Human-readable logs")

	for _, name := range []string{"recipe", "install-trap-addr"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			fmt.Printf("failed to mark flag %s as required: %v\n", name, err)
		}
	}

	return cmd
}

func run(ctx context.Context, logger zerolog.Logger, opts *options, pid int) (attach.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	probes, err := recipe.ParseFile(opts.recipePath)
	if err != nil {
		return attach.Report{}, err
	}
	logger.Info().Str("recipe", opts.recipePath).Int("probes", len(probes)).Msg("Recipe parsed")

	info, err := inspect(ctx, pid)
	if err != nil {
		return attach.Report{}, err
	}
	logger.Info().
		Int("pid", pid).
		Str("name", info.Name).
		Int32("threads", info.Threads).
		Str("exe", info.Exe).
		Str("kernel", proc.GetKernelVersion()).
		Msg("Target found")
	checkModuleMapped(logger, pid, opts.libPath)
	warnPrivileges(logger)

	tracer, release := newTracer()
	defer release()

	session, err := attach.NewSession(attach.Config{
		PID:         pid,
		TrapAddr:    uint64(opts.trapAddr),
		RecipePath:  opts.recipePath,
		LibPath:     opts.libPath,
		Tracer:      tracer,
		ListThreads: listThreads,
		Logger:      logger,
	})
	if err != nil {
		return attach.Report{}, err
	}

	if err := session.Run(ctx); err != nil {
		return attach.Report{}, fmt.Errorf("pid %d: %w", pid, err)
	}
	return session.Report(), nil
}
