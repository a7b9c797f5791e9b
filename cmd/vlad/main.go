// vlad replays allocation scripts against a simulated best-fit heap and prints its layout.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"github.com/vkngwrapper/vlad/heap"
	"github.com/vkngwrapper/vlad/memutils"
	"github.com/vkngwrapper/vlad/trace"
	"golang.org/x/exp/slog"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML file with default settings",
	}
	capacityFlag = &cli.UintFlag{
		Name:  "capacity",
		Usage: "heap capacity in bytes, rounded up to a power of two (at least 1024)",
	}
	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "dump format (text|json)",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level (debug|info|warn|error)",
	}
	sourceFlag = &cli.StringFlag{
		Name:  "source",
		Usage: "where the heap buffer comes from (go|mmap)",
	}
	maxBytesFlag = &cli.IntFlag{
		Name:  "max-bytes",
		Usage: "refuse heap buffers larger than this many bytes (0 means no limit)",
	}
)

func newApp(stdout io.Writer, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "vlad",
		Usage:     "best-fit allocator over a simulated heap",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			configFlag,
			capacityFlag,
			formatFlag,
			verbosityFlag,
			sourceFlag,
			maxBytesFlag,
		},
		Commands: []*cli.Command{
			{
				Name:      "replay",
				Usage:     "run allocation scripts, each against a fresh heap",
				ArgsUsage: "<script> [<script>...]",
				Action:    replay,
			},
			{
				Name:   "dump",
				Usage:  "initialize an empty heap and print its layout",
				Action: dump,
			},
		},
	}
}

func newLogger(ctx *cli.Context, cfg config) *slog.Logger {
	return slog.New(slog.NewTextHandler(ctx.App.ErrWriter, &slog.HandlerOptions{Level: cfg.level()}))
}

func newHeap(logger *slog.Logger, cfg config) (*heap.Heap, error) {
	return heap.New(heap.CreateOptions{
		Source: cfg.bufferSource(),
		Logger: logger,
	})
}

// releaseHeap is deferred by every action that builds a heap. By then the action's own
// result is settled, so a failed release is logged rather than returned.
func releaseHeap(logger *slog.Logger, h *heap.Heap) {
	if err := h.Shutdown(); err != nil {
		logger.Error("failed to release heap", slog.Any("error", err))
	}
}

func replay(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("replay needs at least one script")
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := newLogger(ctx, cfg)

	var total memutils.DetailedStatistics
	total.Clear()

	for _, path := range ctx.Args().Slice() {
		result, stats, err := replayFile(ctx.Context, logger, cfg, path, ctx.App.Writer)
		if err != nil {
			return errors.Wrapf(err, "replay %s", path)
		}
		total.AddDetailedStatistics(&stats)

		fmt.Fprintf(ctx.App.Writer, "%s: %d commands, %d allocations, %d frees, %d failed allocations, %d live, %d free bytes\n",
			path, result.Commands, result.Allocations, result.Frees, result.FailedAllocations, result.LiveAllocations, result.FreeBytes)
	}

	fmt.Fprintf(ctx.App.Writer, "total: %d heaps, %d bytes, %d allocated blocks, %d allocated bytes, %d free bytes\n",
		total.HeapCount, total.HeapBytes, total.AllocationCount, total.AllocationBytes, total.FreeBytes())
	return nil
}

func replayFile(ctx context.Context, logger *slog.Logger, cfg config, path string, out io.Writer) (trace.Result, memutils.DetailedStatistics, error) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	file, err := os.Open(path)
	if err != nil {
		return trace.Result{}, stats, errors.WithStack(err)
	}
	defer file.Close()

	cmds, err := trace.Parse(file)
	if err != nil {
		return trace.Result{}, stats, err
	}

	h, err := newHeap(logger.With(slog.String("Script", path)), cfg)
	if err != nil {
		return trace.Result{}, stats, err
	}
	defer releaseHeap(logger, h)

	// Scripts that start with their own init keep the capacity they ask for
	if len(cmds) == 0 || cmds[0].Op != trace.OpInit {
		if err := h.Init(cfg.Capacity); err != nil {
			return trace.Result{}, stats, err
		}
	}

	replayer := trace.NewReplayer(h, trace.ReplayOptions{Logger: logger, Format: cfg.format()})
	err = replayer.Run(ctx, cmds, out)
	if err != nil {
		return replayer.Result(), stats, err
	}

	stats, err = replayer.Statistics()
	return replayer.Result(), stats, err
}

func dump(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	logger := newLogger(ctx, cfg)
	h, err := newHeap(logger, cfg)
	if err != nil {
		return err
	}
	if err := h.Init(cfg.Capacity); err != nil {
		return err
	}
	defer releaseHeap(logger, h)

	if cfg.format() == trace.FormatJSON {
		_, err = fmt.Fprintln(ctx.App.Writer, h.BuildStatsString())
		return errors.WithStack(err)
	}
	return h.DumpState(ctx.App.Writer)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)

		code := 1
		if heap.IsFatal(err) {
			code = 2
		}
		stop()
		os.Exit(code)
	}
}
