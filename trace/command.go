// Package trace replays scripted allocation workloads against a heap.
//
// A script holds one command per line. Blank lines and everything after a '#' are ignored.
//
//	init <capacity>
//	alloc <name> <size>
//	free <name>
//	dump
//	validate
//	shutdown
//	expect-fail alloc <name> <size>
//
// Names bind the handle returned by alloc so that a later free can refer to it.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrSyntax is the cause of every error returned by Parse for a malformed line
var ErrSyntax = errors.New("invalid trace command")

// Op is the action a Command performs
type Op uint32

const (
	OpInit Op = iota + 1
	OpAlloc
	OpFree
	OpDump
	OpValidate
	OpShutdown
)

var opMapping = map[Op]string{
	OpInit:     "init",
	OpAlloc:    "alloc",
	OpFree:     "free",
	OpDump:     "dump",
	OpValidate: "validate",
	OpShutdown: "shutdown",
}

var opLookup = map[string]Op{
	"init":     OpInit,
	"alloc":    OpAlloc,
	"free":     OpFree,
	"dump":     OpDump,
	"validate": OpValidate,
	"shutdown": OpShutdown,
}

var opArgs = map[Op]int{
	OpInit:     1,
	OpAlloc:    2,
	OpFree:     1,
	OpDump:     0,
	OpValidate: 0,
	OpShutdown: 0,
}

func (o Op) String() string {
	str, ok := opMapping[o]
	if !ok {
		return fmt.Sprintf("Op(%d)", uint32(o))
	}
	return str
}

// Command is one parsed script line
type Command struct {
	// Line is the 1-based line number the command came from
	Line int
	Op   Op

	Name string
	// Size is the capacity for init and the payload size for alloc
	Size uint32

	// ExpectFail marks an alloc that must fail with heap.ErrNoSpace
	ExpectFail bool
}

func (c Command) String() string {
	var sb strings.Builder
	if c.ExpectFail {
		sb.WriteString("expect-fail ")
	}
	sb.WriteString(c.Op.String())

	switch c.Op {
	case OpInit:
		fmt.Fprintf(&sb, " %d", c.Size)
	case OpAlloc:
		fmt.Fprintf(&sb, " %s %d", c.Name, c.Size)
	case OpFree:
		fmt.Fprintf(&sb, " %s", c.Name)
	}
	return sb.String()
}

// Parse reads a whole script. The first malformed line stops parsing, and the error names
// its line number.
func Parse(r io.Reader) ([]Command, error) {
	var commands []Command

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++

		text := scanner.Text()
		if comment := strings.IndexByte(text, '#'); comment >= 0 {
			text = text[:comment]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		cmd, err := parseFields(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		cmd.Line = line
		commands = append(commands, cmd)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read trace after line %d", line)
	}
	return commands, nil
}

func parseFields(fields []string) (Command, error) {
	var cmd Command

	if fields[0] == "expect-fail" {
		cmd.ExpectFail = true
		fields = fields[1:]
		if len(fields) == 0 || fields[0] != OpAlloc.String() {
			return cmd, errors.Wrap(ErrSyntax, "expect-fail only applies to alloc")
		}
	}

	op, ok := opLookup[fields[0]]
	if !ok {
		return cmd, errors.Wrapf(ErrSyntax, "unknown command %q", fields[0])
	}
	cmd.Op = op

	args := fields[1:]
	if len(args) != opArgs[op] {
		return cmd, errors.Wrapf(ErrSyntax, "%s takes %d arguments, found %d", op, opArgs[op], len(args))
	}

	var err error
	switch op {
	case OpInit:
		cmd.Size, err = parseSize(args[0])
	case OpAlloc:
		cmd.Name = args[0]
		cmd.Size, err = parseSize(args[1])
	case OpFree:
		cmd.Name = args[0]
	}
	return cmd, err
}

func parseSize(text string) (uint32, error) {
	size, err := strconv.ParseUint(text, 0, 32)
	if err != nil {
		return 0, errors.WithSecondaryError(errors.Wrapf(ErrSyntax, "invalid size %q", text), err)
	}
	return uint32(size), nil
}
