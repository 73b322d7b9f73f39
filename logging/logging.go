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

// Package logging wires the fabric's connection/leaf/node lifecycle logs
// to a single file-backed logrus.Logger, configured once via SetLogFile.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
)

var (
	mu     sync.Mutex
	logger *logrus.Logger
	file   *os.File
)

// FuncLog is a lazily-resolved logger getter, accepted by leaf/node/tcp/
// scatter constructors so callers can inject a logger instead of every
// component reaching for the Log() singleton directly. Log itself matches
// this signature and is what every constructor defaults to when no FuncLog
// is passed in.
type FuncLog func() *logrus.Logger

// SetLogFile opens path and installs it as the fabric's log destination at
// the given verbosity. A negative verbosity disables logging but still
// succeeds, leaving Log() to return a discarding logger. Calling
// SetLogFile a second time before Shutdown fails with AlreadyInitialised.
func SetLogFile(path string, verbosity Verbosity) liberr.Error {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		return fabricerr.ErrAlreadyInitialised.Error()
	}

	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if verbosity.Disabled() {
		l.SetOutput(io.Discard)
		l.SetLevel(logrus.PanicLevel)
		logger = l
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fabricerr.ErrCannotCreateLogFile.Error(err)
	}

	l.SetOutput(f)
	l.SetLevel(verbosity.logrusLevel())

	file = f
	logger = l
	return nil
}

// Shutdown closes the current log file (if any) and clears the singleton,
// allowing a subsequent SetLogFile call.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		_ = file.Close()
		file = nil
	}
	logger = nil
}

// Log returns the current logger, or a disabled default if SetLogFile has
// not been called yet.
func Log() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		l.SetLevel(logrus.PanicLevel)
		return l
	}
	return logger
}
