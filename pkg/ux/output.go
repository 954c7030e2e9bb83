// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Palette: radio-shack amber on slate.
var (
	ColorAmber  = lipgloss.Color("#F5A623")
	ColorSignal = lipgloss.Color("#3FB68B")
	ColorSlate  = lipgloss.Color("#4A5A66")
	ColorStatic = lipgloss.Color("#8A9BA8")

	ColorSuccess = lipgloss.Color("#3FB68B")
	ColorWarning = lipgloss.Color("#F5A623")
	ColorError   = lipgloss.Color("#E5534B")
	ColorMuted   = lipgloss.Color("#4A5A66")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Key     lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAmber),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Key:     lipgloss.NewStyle().Foreground(ColorStatic),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSlate).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconSkip    Icon = "↷"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning, IconSkip:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

var (
	outMu  sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects operator output. Nil keeps the current writer.
// Returns a function restoring the previous writers.
func SetOutput(out, errOut io.Writer) (restore func()) {
	outMu.Lock()
	defer outMu.Unlock()
	prevOut, prevErr := stdout, stderr
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
	return func() {
		outMu.Lock()
		defer outMu.Unlock()
		stdout, stderr = prevOut, prevErr
	}
}

// Stdout returns the current operator output writer.
func Stdout() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return stdout
}

// Stderr returns the current operator diagnostic writer.
func Stderr() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return stderr
}

func printOut(format string, args ...any) {
	fmt.Fprintf(Stdout(), format, args...)
}

func printErr(format string, args ...any) {
	fmt.Fprintf(Stderr(), format, args...)
}

// Title prints a styled title. Silent in machine mode.
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	printOut("%s\n", Styles.Title.Render(text))
}

// Success prints a success message with checkmark.
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printOut("OK: %s\n", text)
	case PersonalityMinimal:
		printOut("%s %s\n", IconSuccess.Render(), text)
	default:
		printOut("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Skipped prints a skip outcome. Skips are successes, so machine mode
// reports them on stdout.
func Skipped(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printOut("SKIP: %s\n", text)
	default:
		printOut("%s %s\n", IconSkip.Render(), text)
	}
}

// Warning prints a warning message.
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printErr("WARN: %s\n", text)
	case PersonalityMinimal:
		printOut("%s %s\n", IconWarning.Render(), text)
	default:
		printOut("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message.
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printErr("ERROR: %s\n", text)
	case PersonalityMinimal:
		printErr("%s %s\n", IconError.Render(), text)
	default:
		printErr("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message.
func Info(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printOut("%s\n", text)
	default:
		printOut("%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Muted prints secondary text. Silent in machine mode.
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	printOut("%s\n", Styles.Muted.Render(text))
}

// KeyValue prints one aligned field.
func KeyValue(key, value string) {
	if GetPersonality().Level == PersonalityMachine {
		printOut("%s=%s\n", key, value)
		return
	}
	printOut("  %s %s\n", Styles.Key.Render(fmt.Sprintf("%-14s", key+":")), value)
}

// Box prints text in a rounded box.
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printOut("%s: %s\n", title, content)
		return
	}
	printOut("%s\n", Styles.Box.Width(64).Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints text in a warning-styled box.
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printErr("WARN %s: %s\n", title, content)
		return
	}
	printOut("%s\n", Styles.WarningBox.Width(64).Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
}

// ErrorBox prints a failure summary with optional diagnostic lines.
func ErrorBox(title string, lines []string) {
	if GetPersonality().Level == PersonalityMachine {
		printErr("ERROR %s\n", title)
		for _, l := range lines {
			printErr("  | %s\n", l)
		}
		return
	}
	body := Styles.Error.Bold(true).Render(title)
	for _, l := range lines {
		body += "\n" + Styles.Muted.Render(l)
	}
	printErr("%s\n", Styles.ErrorBox.Render(body))
}
