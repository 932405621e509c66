// Package prompt asks the operator yes/no questions on the terminal.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/openfroyo/converge/pkg/engine"
)

// Terminal implements engine.Confirmer on an interactive terminal. Answers
// to successive prompts come from one buffered reader. A Terminal is not
// safe for concurrent use.
type Terminal struct {
	in         io.Reader
	out        io.Writer
	isTerminal func() bool

	reader *bufio.Reader
	// pending is the read left in flight by a cancelled prompt.
	pending chan readResult
}

type readResult struct {
	line string
	err  error
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithInput reads answers from r. Unless WithTerminalCheck is also given, r
// counts as a terminal only if it is an *os.File attached to one.
func WithInput(r io.Reader) Option {
	return func(t *Terminal) {
		t.in = r
		t.isTerminal = func() bool { return IsTerminal(r) }
	}
}

// WithOutput writes questions to w.
func WithOutput(w io.Writer) Option {
	return func(t *Terminal) { t.out = w }
}

// WithTerminalCheck overrides terminal detection.
func WithTerminalCheck(fn func() bool) Option {
	return func(t *Terminal) { t.isTerminal = fn }
}

// NewTerminal creates a confirmer reading stdin and writing stderr.
func NewTerminal(opts ...Option) *Terminal {
	t := &Terminal{
		in:         os.Stdin,
		out:        os.Stderr,
		isTerminal: func() bool { return IsTerminal(os.Stdin) },
	}
	for _, opt := range opts {
		opt(t)
	}
	t.reader = bufio.NewReader(t.in)
	return t
}

// IsTerminal reports whether r is connected to a terminal.
func IsTerminal(r io.Reader) bool {
	if f, ok := r.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Confirm prints p and reads a y/N answer. Anything but y or yes declines.
// Without a terminal it fails instead of guessing.
func (t *Terminal) Confirm(ctx context.Context, p engine.Prompt) (bool, error) {
	if !t.isTerminal() {
		return false, engine.NewValidationError(
			fmt.Sprintf("%s: no terminal available to confirm (use --yes)", p.Title), nil)
	}

	fmt.Fprintf(t.out, "\n%s\n\n", p.Title)
	if p.Body != "" {
		fmt.Fprintln(t.out, strings.TrimRight(p.Body, "\n"))
		fmt.Fprintln(t.out)
	}
	fmt.Fprintf(t.out, "%s [y/N]: ", p.Question)

	select {
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return false, ctx.Err()
	case res := <-t.readLine():
		t.pending = nil
		if res.err != nil && (res.err != io.EOF || res.line == "") {
			fmt.Fprintln(t.out)
			if res.err == io.EOF {
				return false, nil
			}
			return false, fmt.Errorf("failed to read answer: %w", res.err)
		}
		return isYes(res.line), nil
	}
}

// readLine starts reading the next line, or resumes the read a cancelled
// prompt left behind.
func (t *Terminal) readLine() <-chan readResult {
	if t.pending == nil {
		ch := make(chan readResult, 1)
		go func() {
			line, err := t.reader.ReadString('\n')
			ch <- readResult{line: line, err: err}
		}()
		t.pending = ch
	}
	return t.pending
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
