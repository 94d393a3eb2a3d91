// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

// Package policy evaluates candidate passwords against the account password
// policy. It is stateless and safe for concurrent use.
package policy

import (
	"strings"
	"unicode"
)

// MinLength is the minimum number of characters a password must contain.
const MinLength = 12

// SpecialCharacters lists the characters that satisfy the special-character rule.
const SpecialCharacters = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// Label is the human-readable strength bucket for a score.
type Label string

// Strength labels in ascending order.
const (
	LabelWeak       Label = "weak"
	LabelFair       Label = "fair"
	LabelGood       Label = "good"
	LabelStrong     Label = "strong"
	LabelVeryStrong Label = "very_strong"
)

// Rule is a single hard requirement of the policy.
type Rule struct {
	// Code identifies the rule in machine-readable responses.
	Code string
	// Requirement is the text shown to users before they type.
	Requirement string
	// Violation is the message reported when the rule fails.
	Violation string

	check func(password string) bool
}

// Satisfied reports whether password meets the rule.
func (r Rule) Satisfied(password string) bool {
	return r.check(password)
}

var rules = []Rule{
	{
		Code:        "min_length",
		Requirement: "At least 12 characters long",
		Violation:   "Password must be at least 12 characters long",
		check:       func(p string) bool { return len([]rune(p)) >= MinLength },
	},
	{
		Code:        "uppercase",
		Requirement: "At least one uppercase letter (A-Z)",
		Violation:   "Password must contain at least one uppercase letter",
		check:       func(p string) bool { return strings.IndexFunc(p, isUpper) >= 0 },
	},
	{
		Code:        "lowercase",
		Requirement: "At least one lowercase letter (a-z)",
		Violation:   "Password must contain at least one lowercase letter",
		check:       func(p string) bool { return strings.IndexFunc(p, isLower) >= 0 },
	},
	{
		Code:        "digit",
		Requirement: "At least one number (0-9)",
		Violation:   "Password must contain at least one number",
		check:       func(p string) bool { return strings.IndexFunc(p, isDigit) >= 0 },
	},
	{
		Code:        "special",
		Requirement: "At least one special character (" + SpecialCharacters + ")",
		Violation:   "Password must contain at least one special character (" + SpecialCharacters + ")",
		check:       func(p string) bool { return strings.ContainsAny(p, SpecialCharacters) },
	},
}

// Rules returns the hard rules in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Requirements returns the ordered requirement texts published to clients.
func Requirements() []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Requirement)
	}
	return out
}

// Result is the outcome of evaluating a password.
type Result struct {
	Score      int
	Label      Label
	Violations []string
	// Warnings are soft findings that do not block acceptance.
	Warnings []string
}

// Valid reports whether the password satisfied every hard rule.
func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

// Evaluate scores password and lists violated rules. username may be empty;
// when set, containing it is reported as a warning only.
func Evaluate(password, username string) Result {
	res := Result{Violations: []string{}, Warnings: []string{}}
	for _, r := range rules {
		if !r.check(password) {
			res.Violations = append(res.Violations, r.Violation)
		}
	}

	if u := strings.TrimSpace(username); u != "" &&
		strings.Contains(strings.ToLower(password), strings.ToLower(u)) {
		res.Warnings = append(res.Warnings, "Password should not contain your username")
	}

	res.Score = score(password)
	res.Label = LabelFor(res.Score)
	return res
}

func score(password string) int {
	n := len([]rune(password))
	s := 0
	switch {
	case n >= 20:
		s += 30
	case n >= 16:
		s += 25
	case n >= MinLength:
		s += 15
	}

	for _, present := range []bool{
		strings.IndexFunc(password, isUpper) >= 0,
		strings.IndexFunc(password, isLower) >= 0,
		strings.IndexFunc(password, isDigit) >= 0,
		strings.ContainsAny(password, SpecialCharacters),
	} {
		if present {
			s += 10
		}
	}

	distinct := make(map[rune]struct{}, n)
	for _, r := range password {
		distinct[r] = struct{}{}
	}
	for _, threshold := range []int{8, 12, 16} {
		if len(distinct) >= threshold {
			s += 10
		}
	}

	return min(s, 100)
}

// LabelFor maps a score to its strength label.
func LabelFor(score int) Label {
	switch {
	case score < 40:
		return LabelWeak
	case score < 60:
		return LabelFair
	case score < 75:
		return LabelGood
	case score < 90:
		return LabelStrong
	default:
		return LabelVeryStrong
	}
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isDigit(r rune) bool { return unicode.IsDigit(r) && r < unicode.MaxASCII }
