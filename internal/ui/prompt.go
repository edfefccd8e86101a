package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// IsInteractive reports whether f is a terminal a user can answer prompts on.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Prompter reads a project name from a line-oriented input.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter creates a Prompter reading from in and writing prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// PromptName shows why the previous answer was rejected, if it was, and
// reads one line. End of input without an answer returns io.EOF.
func (p *Prompter) PromptName(ctx context.Context, problem error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if problem != nil {
		fmt.Fprintln(p.out, errorStyle.Render("✗ "+problem.Error()))
	}
	fmt.Fprint(p.out, promptStyle.Render("? Project name: "))

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return "", io.EOF
	}
	return strings.TrimSpace(line), nil
}
