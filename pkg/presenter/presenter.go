// Package presenter writes user-facing CLI output: status messages in
// colour, plus plans, match candidates and step results.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// ColorMode selects whether output is coloured
type ColorMode int

const (
	// ColorAuto colours output when writing to a terminal
	ColorAuto ColorMode = iota
	// ColorAlways always colours output
	ColorAlways
	// ColorNever never colours output
	ColorNever
)

// TerminalPresenter writes to an output and an error stream
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	quiet       bool
}

// New creates a presenter on stdout and stderr, honouring NO_COLOR and
// AGENTPLUG_COLOR
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, colorModeFromEnv())
}

// NewWithOptions creates a presenter with explicit streams and colour mode
func NewWithOptions(output, errorOutput io.Writer, mode ColorMode) *TerminalPresenter {
	switch mode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	}
	return &TerminalPresenter{output: output, errorOutput: errorOutput}
}

func colorModeFromEnv() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}
	switch os.Getenv("AGENTPLUG_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error writes err to the error stream. Errors are shown even when quiet.
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}
	c := color.New(color.FgRed, color.Bold)
	if context != "" {
		c.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
		return
	}
	c.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
}

// Success writes a success message
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

// Warning writes a warning
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

// Info writes a plain message
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, message)
}

// Section writes an underlined header
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}
	c := color.New(color.Bold)
	c.Fprintln(p.output, title)
	c.Fprintln(p.output, strings.Repeat("-", len(title)))
}

// Candidates writes ranked match candidates
func (p *TerminalPresenter) Candidates(candidates []capability.MatchCandidate) {
	if p.quiet {
		return
	}
	id := color.New(color.FgCyan)
	for i, c := range candidates {
		fmt.Fprintf(p.output, "%2d. ", i+1)
		id.Fprint(p.output, c.DescriptorID)
		fmt.Fprintf(p.output, "  score=%d", c.Score)
		if len(c.MatchedTriggers) > 0 {
			fmt.Fprintf(p.output, "  triggers=%s", strings.Join(c.MatchedTriggers, ", "))
		}
		fmt.Fprintln(p.output)
	}
}

// Results writes the output of each executed step
func (p *TerminalPresenter) Results(results []capability.Result) {
	for _, r := range results {
		p.Section(fmt.Sprintf("Step %d: %s", r.StepIndex, r.DescriptorID))
		if !p.quiet {
			fmt.Fprintln(p.output, strings.TrimRight(r.Output, "\n"))
			fmt.Fprintln(p.output)
		}
	}
}

// SetQuiet suppresses everything except errors
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet reports whether quiet mode is on
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Error writes err using the default presenter
func Error(err error, context string) { defaultPresenter.Error(err, context) }

// Success writes message using the default presenter
func Success(message string) { defaultPresenter.Success(message) }

// Warning writes message using the default presenter
func Warning(message string) { defaultPresenter.Warning(message) }

// Info writes message using the default presenter
func Info(message string) { defaultPresenter.Info(message) }

// Section writes title using the default presenter
func Section(title string) { defaultPresenter.Section(title) }

// Candidates writes candidates using the default presenter
func Candidates(candidates []capability.MatchCandidate) { defaultPresenter.Candidates(candidates) }

// Results writes results using the default presenter
func Results(results []capability.Result) { defaultPresenter.Results(results) }

// SetQuiet sets quiet mode on the default presenter
func SetQuiet(quiet bool) { defaultPresenter.SetQuiet(quiet) }
