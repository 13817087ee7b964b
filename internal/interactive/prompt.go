// Package interactive provides interactive prompts for user confirmation.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/cl4nyz/elevadores-updater/internal/update"
)

// maxNoteLines bounds the release notes shown before the question.
const maxNoteLines = 10

// Response represents the user's response to a prompt.
type Response int

const (
	ResponseNo  Response = iota // Decline
	ResponseYes                 // Proceed
)

// Prompter handles interactive confirmation prompts.
type Prompter struct {
	in      io.Reader
	out     io.Writer
	scanner *bufio.Scanner
}

// NewPrompterWithIO creates a prompter with custom input/output (for testing).
func NewPrompterWithIO(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:      in,
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// IsTerminal checks if stdin is a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// prompt displays a question and reads a yes/no answer. Anything but an
// explicit yes, including end of input, is a no.
func (p *Prompter) prompt(format string, args ...any) Response {
	_, _ = fmt.Fprintf(p.out, format, args...)
	_, _ = fmt.Fprint(p.out, " [y/N] ")

	if !p.scanner.Scan() {
		_, _ = fmt.Fprintln(p.out)
		return ResponseNo
	}

	switch strings.ToLower(strings.TrimSpace(p.scanner.Text())) {
	case "y", "yes", "s", "sim":
		return ResponseYes
	default:
		return ResponseNo
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(format string, args ...any) bool {
	return p.prompt(format, args...) == ResponseYes
}

// ConfirmUpdate summarizes the pending release and asks whether to install
// it.
func (p *Prompter) ConfirmUpdate(info *update.VersionInfo) bool {
	_, _ = fmt.Fprintf(p.out, "Current version: %s\n", info.CurrentVersion)
	_, _ = fmt.Fprintf(p.out, "Release:         %s\n", info.RemoteVersion)
	if info.Degraded {
		_, _ = fmt.Fprintln(p.out, "Warning: release metadata could not be fetched; the fallback artifact will be installed.")
	} else if !info.Newer && update.IsSemver(info.RemoteVersion) && update.IsSemver(info.CurrentVersion) {
		_, _ = fmt.Fprintln(p.out, "Warning: the release is not newer than the installed version.")
	}

	if notes := strings.TrimSpace(info.ReleaseNotes); notes != "" {
		_, _ = fmt.Fprintln(p.out, "\nRelease notes:")
		lines := strings.Split(notes, "\n")
		for i, line := range lines {
			if i == maxNoteLines {
				_, _ = fmt.Fprintf(p.out, "  ... (%d more lines)\n", len(lines)-maxNoteLines)
				break
			}
			_, _ = fmt.Fprintf(p.out, "  %s\n", strings.TrimRight(line, "\r"))
		}
	}

	_, _ = fmt.Fprintln(p.out)
	if !p.Confirm("Proceed with update?") {
		_, _ = fmt.Fprintln(p.out, "Aborted.")
		return false
	}
	return true
}
