// Package gcode parses the machine-tool command stream and dispatches
// it onto the planner through the scheduler's bounded command queue.
//
// Copyright (C) 2026  Printipi Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"strconv"
	"strings"

	"github.com/js-god/printipi/pkg/errors"
)

// Command is one parsed command line: the command word plus its
// single-letter float arguments.
type Command struct {
	Letter byte // 'G' or 'M'
	Number int
	args   map[byte]float64
	flags  map[byte]bool
	Raw    string
}

// Arg returns the value of a parameter and whether it was present.
func (c *Command) Arg(letter byte) (float64, bool) {
	v, ok := c.args[letter]
	return v, ok
}

// ArgOr returns the parameter value or a default.
func (c *Command) ArgOr(letter byte, def float64) float64 {
	if v, ok := c.args[letter]; ok {
		return v
	}
	return def
}

// Has reports whether the parameter appeared, with or without a value.
func (c *Command) Has(letter byte) bool {
	return c.flags[letter]
}

// stripComments removes ;-to-eol and (...) comments.
func stripComments(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	for {
		open := strings.IndexByte(line, '(')
		if open < 0 {
			break
		}
		close := strings.IndexByte(line[open:], ')')
		if close < 0 {
			line = line[:open]
			break
		}
		line = line[:open] + line[open+close+1:]
	}
	return strings.TrimSpace(line)
}

// Parse parses one command line. Empty lines (after comment stripping)
// yield a nil command and no error.
func Parse(line string) (*Command, error) {
	raw := line
	line = stripComments(strings.ToUpper(line))
	if line == "" {
		return nil, nil
	}

	fields := strings.Fields(line)
	word := fields[0]
	if len(word) < 2 || (word[0] != 'G' && word[0] != 'M') {
		return nil, errors.GCodeParse(raw, "expected G or M command word")
	}
	num, err := strconv.Atoi(word[1:])
	if err != nil {
		return nil, errors.GCodeParse(raw, "bad command number")
	}

	cmd := &Command{
		Letter: word[0],
		Number: num,
		args:   make(map[byte]float64),
		flags:  make(map[byte]bool),
		Raw:    raw,
	}
	for _, f := range fields[1:] {
		letter := f[0]
		if letter < 'A' || letter > 'Z' {
			return nil, errors.GCodeParse(raw, "bad parameter "+f)
		}
		cmd.flags[letter] = true
		if len(f) == 1 {
			continue
		}
		v, err := strconv.ParseFloat(f[1:], 64)
		if err != nil {
			return nil, errors.GCodeParse(raw, "bad value for "+string(letter))
		}
		cmd.args[letter] = v
	}
	return cmd, nil
}
