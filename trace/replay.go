package trace

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/vlad/heap"
	"github.com/vkngwrapper/vlad/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

var (
	// ErrUnknownName is returned when free names a handle that is not live
	ErrUnknownName = errors.New("no live allocation has this name")

	// ErrDuplicateName is returned when alloc names a handle that is still live
	ErrDuplicateName = errors.New("an allocation with this name is still live")

	// ErrUnexpectedSuccess is returned when an expect-fail alloc succeeds
	ErrUnexpectedSuccess = errors.New("allocation was expected to fail")
)

// Format selects how dump commands render the heap
type Format uint32

const (
	FormatText Format = iota
	FormatJSON
)

var formatMapping = map[Format]string{
	FormatText: "text",
	FormatJSON: "json",
}

func (f Format) String() string {
	return formatMapping[f]
}

// ParseFormat maps "text" or "json" to a Format
func ParseFormat(name string) (Format, error) {
	for format, formatName := range formatMapping {
		if formatName == name {
			return format, nil
		}
	}
	return FormatText, errors.Newf("unknown dump format %q", name)
}

// Result summarizes the commands a Replayer has run
type Result struct {
	Commands          int
	Allocations       int
	Frees             int
	FailedAllocations int

	// FreeBytes and LiveAllocations describe the heap after the last command
	FreeBytes       int
	LiveAllocations int
}

// ReplayOptions contains optional settings for a Replayer. It is valid to leave all the
// fields blank.
type ReplayOptions struct {
	// Logger receives one debug record per command. Nothing is logged when nil.
	Logger *slog.Logger

	// Format is used by dump commands
	Format Format
}

// Replayer runs commands against one heap and remembers which name holds which handle.
// Names are dropped when the heap is shut down.
type Replayer struct {
	heap   *heap.Heap
	logger *slog.Logger
	format Format

	names  *swiss.Map[string, heap.Addr]
	result Result

	// retired holds the block totals of every heap a shutdown command released
	retired memutils.DetailedStatistics
}

func NewReplayer(h *heap.Heap, options ReplayOptions) *Replayer {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	replayer := &Replayer{
		heap:   h,
		logger: logger,
		format: options.Format,
		names:  swiss.NewMap[string, heap.Addr](42),
	}
	replayer.retired.Clear()
	return replayer
}

// Run executes cmds in order, writing dump output to out. It stops at the first command that
// fails, or when ctx is done, and the error names the failing line. Run may be called again
// to continue with more commands against the same heap.
func (r *Replayer) Run(ctx context.Context, cmds []Command, out io.Writer) error {
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "stopped before line %d", cmd.Line)
		}

		err := r.execute(cmd, out)
		r.result.Commands++
		r.result.FreeBytes = r.heap.SumFreeSize()
		r.result.LiveAllocations = r.heap.AllocationCount()
		if err != nil {
			r.logger.Error("Replayer::Run failed", slog.Int("Line", cmd.Line), slog.String("Command", cmd.String()), slog.Any("error", err))
			return errors.Wrapf(err, "line %d: %s", cmd.Line, cmd)
		}
	}

	return nil
}

// Result returns the totals accumulated across every call to Run
func (r *Replayer) Result() Result {
	return r.result
}

// Statistics returns the block totals of every heap a shutdown command released plus the
// current heap, if it is initialized. A corrupt current heap is counted up to the damage and
// the decode error is returned with the partial totals.
func (r *Replayer) Statistics() (memutils.DetailedStatistics, error) {
	stats := r.retired
	err := r.heap.AddDetailedStatistics(&stats)
	return stats, err
}

// Live returns the names of every live allocation, sorted
func (r *Replayer) Live() []string {
	names := make([]string, 0, r.names.Count())
	r.names.Iter(func(name string, ptr heap.Addr) (stop bool) {
		names = append(names, name)
		return false
	})
	slices.Sort(names)
	return names
}

// Lookup returns the handle bound to name
func (r *Replayer) Lookup(name string) (heap.Addr, bool) {
	return r.names.Get(name)
}

func (r *Replayer) execute(cmd Command, out io.Writer) error {
	switch cmd.Op {
	case OpInit:
		return r.heap.Init(cmd.Size)
	case OpAlloc:
		return r.alloc(cmd)
	case OpFree:
		return r.free(cmd)
	case OpDump:
		return r.dump(out)
	case OpValidate:
		return r.heap.Validate()
	case OpShutdown:
		if err := r.heap.AddDetailedStatistics(&r.retired); err != nil {
			r.logger.Warn("Replayer::execute counted a corrupt heap", slog.Any("error", err))
		}
		r.names = swiss.NewMap[string, heap.Addr](42)
		return r.heap.Shutdown()
	default:
		return errors.Wrapf(ErrSyntax, "unknown op %s", cmd.Op)
	}
}

func (r *Replayer) alloc(cmd Command) error {
	if r.names.Has(cmd.Name) {
		return errors.Wrapf(ErrDuplicateName, "%q", cmd.Name)
	}

	ptr, err := r.heap.Alloc(cmd.Size)
	if cmd.ExpectFail {
		if err == nil {
			r.result.Allocations++
			r.names.Put(cmd.Name, ptr)
			return errors.Wrapf(ErrUnexpectedSuccess, "%q received offset %d", cmd.Name, ptr)
		}
		if !errors.Is(err, heap.ErrNoSpace) {
			return err
		}
		r.result.FailedAllocations++
		r.logger.Debug("Replayer::alloc failed as expected", slog.String("Name", cmd.Name), slog.Int("Size", int(cmd.Size)))
		return nil
	}

	if err != nil {
		if errors.Is(err, heap.ErrNoSpace) {
			r.result.FailedAllocations++
		}
		return err
	}

	r.result.Allocations++
	r.names.Put(cmd.Name, ptr)
	r.logger.Debug("Replayer::alloc", slog.String("Name", cmd.Name), slog.Int("Size", int(cmd.Size)), slog.Int("Offset", int(ptr)))
	return nil
}

func (r *Replayer) free(cmd Command) error {
	ptr, ok := r.names.Get(cmd.Name)
	if !ok {
		return errors.Wrapf(ErrUnknownName, "%q", cmd.Name)
	}

	if err := r.heap.Free(ptr); err != nil {
		return err
	}

	r.names.Delete(cmd.Name)
	r.result.Frees++
	r.logger.Debug("Replayer::free", slog.String("Name", cmd.Name), slog.Int("Offset", int(ptr)))
	return nil
}

func (r *Replayer) dump(out io.Writer) error {
	if r.format == FormatJSON {
		_, err := fmt.Fprintln(out, r.heap.BuildStatsString())
		return errors.Wrap(err, "write heap map")
	}
	return r.heap.DumpState(out)
}
