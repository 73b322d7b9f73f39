/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Verbosity is the fabric's six-level log verbosity, lowest (Fatal) to
// highest (Trace). Any negative value disables logging entirely instead
// of mapping to a dedicated sentinel value.
type Verbosity int8

const (
	Fatal Verbosity = iota
	Error
	Warn
	Info
	Debug
	Trace
)

func (v Verbosity) String() string {
	switch v {
	case Fatal:
		return "fatal"
	case Error:
		return "error"
	case Warn:
		return "warn"
	case Info:
		return "info"
	case Debug:
		return "debug"
	case Trace:
		return "trace"
	default:
		return "disabled"
	}
}

// Disabled reports whether v disables logging entirely.
func (v Verbosity) Disabled() bool {
	return v < Fatal
}

func (v Verbosity) logrusLevel() logrus.Level {
	switch v {
	case Fatal:
		return logrus.FatalLevel
	case Error:
		return logrus.ErrorLevel
	case Warn:
		return logrus.WarnLevel
	case Info:
		return logrus.InfoLevel
	case Debug:
		return logrus.DebugLevel
	case Trace:
		return logrus.TraceLevel
	default:
		return logrus.PanicLevel
	}
}

// ParseVerbosity accepts the names listed by ListVerbosities, plus
// "warning" as an alias for Warn, case insensitively; any other value
// (including "disabled" or "off") parses to a disabling negative verbosity.
func ParseVerbosity(s string) Verbosity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fatal":
		return Fatal
	case "error":
		return Error
	case "warn", "warning":
		return Warn
	case "info":
		return Info
	case "debug":
		return Debug
	case "trace":
		return Trace
	default:
		return Verbosity(-1)
	}
}

// ListVerbosities returns every named verbosity level, lowest to highest.
func ListVerbosities() []string {
	return []string{
		Fatal.String(),
		Error.String(),
		Warn.String(),
		Info.String(),
		Debug.String(),
		Trace.String(),
	}
}
