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
	"testing"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := map[string]PersonalityLevel{
		"full":     PersonalityFull,
		"F":        PersonalityFull,
		"standard": PersonalityStandard,
		"min":      PersonalityMinimal,
		"machine":  PersonalityMachine,
		"ci":       PersonalityMachine,
		" quiet ":  PersonalityMachine,
		"bogus":    PersonalityStandard,
		"":         PersonalityStandard,
	}
	for in, want := range tests {
		if got := ParsePersonalityLevel(in); got != want {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitPersonality_CIWins(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	t.Setenv("ULSCTL_PERSONALITY", "full")

	InitPersonality(true, "full")
	if GetPersonality().Level != PersonalityMachine {
		t.Errorf("expected machine, got %v", GetPersonality().Level)
	}
}

func TestInitPersonality_EnvOverridesConfig(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	t.Setenv("ULSCTL_PERSONALITY", "minimal")

	InitPersonality(false, "full")
	if GetPersonality().Level != PersonalityMinimal {
		t.Errorf("expected minimal, got %v", GetPersonality().Level)
	}
}

func TestInitPersonality_Configured(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	t.Setenv("ULSCTL_PERSONALITY", "")

	InitPersonality(false, "standard")
	if GetPersonality().Level != PersonalityStandard {
		t.Errorf("expected standard, got %v", GetPersonality().Level)
	}
}

func TestIsInteractive_MachineNever(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)
	if IsInteractive() {
		t.Error("machine mode must not be interactive")
	}
}

func TestConfirm_NonInteractive(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	SetPersonalityLevel(PersonalityMachine)

	ok, err := Confirm("Rotate?", "", "Rotate")
	if ok || err != ErrNotInteractive {
		t.Errorf("expected (false, ErrNotInteractive), got (%v, %v)", ok, err)
	}
}
