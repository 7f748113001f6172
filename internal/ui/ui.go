package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"
)

var (
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(1, 2)

	failureStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("160")).
			Padding(1, 2)

	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Terminal renders pipeline progress events. The pipeline itself
// never touches the terminal.
type Terminal struct {
	quiet   bool
	spinner *pterm.SpinnerPrinter
	bar     *progressbar.ProgressBar
}

func (t *Terminal) StageStarted(stage models.Stage) {
	if t.quiet {
		return
	}

	t.stopSpinner()
	pterm.DefaultSection.Println(stage.String())
}

func (t *Terminal) StepStarted(description string) {
	if t.quiet {
		return
	}

	t.stopSpinner()
	spinner, err := pterm.DefaultSpinner.Start(description)
	if err == nil {
		t.spinner = spinner
	}
}

func (t *Terminal) StepCompleted(description string) {
	if t.quiet {
		return
	}

	if t.spinner != nil {
		t.spinner.Success(description)
		t.spinner = nil
		return
	}

	pterm.Success.Println(description)
}

func (t *Terminal) Warning(message string) {
	if t.quiet {
		return
	}

	t.stopSpinner()
	pterm.Warning.Println(message)
}

// Progress renders byte progress for downloads with an unknown total.
func (t *Terminal) Progress(description string, bytes int64) {
	if t.quiet {
		return
	}

	if t.bar == nil {
		t.stopSpinner()
		t.bar = progressbar.DefaultBytes(-1, description)
	}

	_ = t.bar.Set64(bytes)
}

func (t *Terminal) stopSpinner() {
	if t.spinner != nil {
		_ = t.spinner.Stop()
		t.spinner = nil
	}
	if t.bar != nil {
		_ = t.bar.Finish()
		t.bar = nil
	}
}

func (t *Terminal) Summary(summary string) {
	t.stopSpinner()
	fmt.Fprintln(os.Stdout, summaryStyle.Render(summary))
}

func (t *Terminal) Failure(stage, message, hint string) {
	t.stopSpinner()
	body := fmt.Sprintf("Provisioning failed during %s.\n\n%s", stage, message)
	if hint != "" {
		body += "\n\n" + hintStyle.Render("hint: "+hint)
	}
	fmt.Fprintln(os.Stderr, failureStyle.Render(body))
}

func New(quiet bool) *Terminal {
	return &Terminal{quiet: quiet}
}
