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
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel defines the verbosity and richness of CLI output.
type PersonalityLevel string

const (
	// PersonalityFull enables colors, icons, boxes, and the heartbeat spinner.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard is full without decorative boxes.
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons and basic formatting only.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs OK:/WARN:/ERROR: prefixed plain lines for
	// cron mail and log scraping.
	PersonalityMachine PersonalityLevel = "machine"
)

// Personality holds the current output configuration.
type Personality struct {
	Level PersonalityLevel
}

var (
	currentPersonality = Personality{Level: PersonalityStandard}
	personalityMu      sync.RWMutex
)

// GetPersonality returns the current personality settings.
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality updates the current personality settings.
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// SetPersonalityLevel updates just the level.
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality.Level = level
}

// ParsePersonalityLevel converts a string to a level. Unknown values map to standard.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "f":
		return PersonalityFull
	case "standard", "std", "s":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q", "ci":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitPersonality picks the level for this invocation.
//
// --ci always wins. Otherwise ULSCTL_PERSONALITY, then configured, then
// machine when stdout is not a terminal (cron), else full.
func InitPersonality(ci bool, configured string) {
	switch {
	case ci:
		SetPersonalityLevel(PersonalityMachine)
	case os.Getenv("ULSCTL_PERSONALITY") != "":
		SetPersonalityLevel(ParsePersonalityLevel(os.Getenv("ULSCTL_PERSONALITY")))
	case configured != "":
		SetPersonalityLevel(ParsePersonalityLevel(configured))
	case !IsTerminal():
		SetPersonalityLevel(PersonalityMachine)
	default:
		SetPersonalityLevel(PersonalityFull)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether prompts and spinners may be shown.
func IsInteractive() bool {
	return GetPersonality().Level != PersonalityMachine && IsTerminal() && isatty.IsTerminal(os.Stdin.Fd())
}
