package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// prompter reads operator input line by line. The scoring loop and the
// confirmations it triggers share one prompter so neither swallows the
// other's input.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out}
}

// ReadLine prints prompt and returns the next trimmed line. ok is false at
// end of input.
func (p *prompter) ReadLine(prompt string) (line string, ok bool) {
	fmt.Fprint(p.out, prompt)
	if !p.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.in.Text()), true
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *prompter) Confirm(ctx context.Context, prompt string) bool {
	if ctx.Err() != nil {
		return false
	}
	line, ok := p.ReadLine(prompt + " [y/N] ")
	if !ok {
		return false
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	}
	return false
}
