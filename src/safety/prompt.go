// Package safety gates destructive operations behind a confirmation
// prompt.
package safety

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Options come from the global CLI flags.
type Options struct {
	// Yes answers every prompt affirmatively without asking.
	Yes bool
	// DryRun declines every prompt so nothing is changed.
	DryRun bool
}

// Confirm asks the user to approve an action. With DryRun set it declines
// without prompting; with Yes set it approves without prompting.
func Confirm(opts Options, in io.Reader, out io.Writer, question string) (bool, error) {
	if opts.DryRun {
		return false, nil
	}
	if opts.Yes {
		return true, nil
	}
	fmt.Fprintf(out, "%s [y/N]: ", strings.TrimSpace(question))
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.TrimSpace(strings.ToLower(line))
	return answer == "y" || answer == "yes", nil
}
