/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

// Package fabric registers the messaging-fabric error taxonomy into the
// shared errors.CodeError space (range errors.MinPkgFabric and up), the
// same way errors/pool and every other consumer package of the errors
// package registers its own code range and message table.
package fabric

import (
	liberr "github.com/yohummus/yogi-go/errors"
)

// Every code below corresponds 1:1 to a name in the core error taxonomy.
// Ok is intentionally omitted: success is reported as (value, nil), never
// as a CodeError.
var (
	ErrUnknown                 = liberr.NewCodeError(liberr.MinPkgFabric + 1)
	ErrInvalidHandle           = liberr.NewCodeError(liberr.MinPkgFabric + 2)
	ErrWrongObjectType         = liberr.NewCodeError(liberr.MinPkgFabric + 3)
	ErrObjectStillUsed         = liberr.NewCodeError(liberr.MinPkgFabric + 4)
	ErrBadAllocation           = liberr.NewCodeError(liberr.MinPkgFabric + 5)
	ErrInvalidParam            = liberr.NewCodeError(liberr.MinPkgFabric + 6)
	ErrAlreadyConnected        = liberr.NewCodeError(liberr.MinPkgFabric + 7)
	ErrAmbiguousIdentifier     = liberr.NewCodeError(liberr.MinPkgFabric + 8)
	ErrAlreadyInitialised      = liberr.NewCodeError(liberr.MinPkgFabric + 9)
	ErrNotInitialised          = liberr.NewCodeError(liberr.MinPkgFabric + 10)
	ErrCannotCreateLogFile     = liberr.NewCodeError(liberr.MinPkgFabric + 11)
	ErrCanceled                = liberr.NewCodeError(liberr.MinPkgFabric + 12)
	ErrAsyncOperationRunning   = liberr.NewCodeError(liberr.MinPkgFabric + 13)
	ErrBufferTooSmall          = liberr.NewCodeError(liberr.MinPkgFabric + 14)
	ErrNotBound                = liberr.NewCodeError(liberr.MinPkgFabric + 15)
	ErrInvalidId               = liberr.NewCodeError(liberr.MinPkgFabric + 16)
	ErrIdentificationTooLarge  = liberr.NewCodeError(liberr.MinPkgFabric + 17)
	ErrInvalidIpAddress        = liberr.NewCodeError(liberr.MinPkgFabric + 18)
	ErrInvalidPortNumber       = liberr.NewCodeError(liberr.MinPkgFabric + 19)
	ErrCannotOpenSocket        = liberr.NewCodeError(liberr.MinPkgFabric + 20)
	ErrCannotBindSocket        = liberr.NewCodeError(liberr.MinPkgFabric + 21)
	ErrCannotListenOnSocket    = liberr.NewCodeError(liberr.MinPkgFabric + 22)
	ErrSocketBroken            = liberr.NewCodeError(liberr.MinPkgFabric + 23)
	ErrInvalidMagicPrefix      = liberr.NewCodeError(liberr.MinPkgFabric + 24)
	ErrIncompatibleVersion     = liberr.NewCodeError(liberr.MinPkgFabric + 25)
	ErrAcceptFailed            = liberr.NewCodeError(liberr.MinPkgFabric + 26)
	ErrTimeout                 = liberr.NewCodeError(liberr.MinPkgFabric + 27)
	ErrAddressInUse            = liberr.NewCodeError(liberr.MinPkgFabric + 28)
	ErrResolveFailed           = liberr.NewCodeError(liberr.MinPkgFabric + 29)
	ErrConnectionRefused       = liberr.NewCodeError(liberr.MinPkgFabric + 30)
	ErrHostUnreachable         = liberr.NewCodeError(liberr.MinPkgFabric + 31)
	ErrNetworkDown             = liberr.NewCodeError(liberr.MinPkgFabric + 32)
	ErrConnectFailed           = liberr.NewCodeError(liberr.MinPkgFabric + 33)
	ErrNotReady                = liberr.NewCodeError(liberr.MinPkgFabric + 34)
	ErrAlreadyAssigned         = liberr.NewCodeError(liberr.MinPkgFabric + 35)
	ErrConnectionDead          = liberr.NewCodeError(liberr.MinPkgFabric + 36)
	ErrConnectionClosed        = liberr.NewCodeError(liberr.MinPkgFabric + 37)
	ErrUninitialized           = liberr.NewCodeError(liberr.MinPkgFabric + 38)
)

var messages = map[liberr.CodeError]string{
	ErrUnknown:                "unknown error",
	ErrInvalidHandle:          "invalid handle",
	ErrWrongObjectType:        "wrong object type",
	ErrObjectStillUsed:        "object still used",
	ErrBadAllocation:          "memory allocation failed",
	ErrInvalidParam:           "invalid parameter",
	ErrAlreadyConnected:       "leaf or node already has a connection assigned",
	ErrAmbiguousIdentifier:    "ambiguous terminal identifier",
	ErrAlreadyInitialised:     "already initialised",
	ErrNotInitialised:         "not initialised",
	ErrCannotCreateLogFile:    "cannot create log file",
	ErrCanceled:               "operation canceled",
	ErrAsyncOperationRunning:  "asynchronous operation already running",
	ErrBufferTooSmall:         "supplied buffer is too small",
	ErrNotBound:               "terminal has no current binding",
	ErrInvalidId:              "invalid id",
	ErrIdentificationTooLarge: "identification payload exceeds the configured maximum",
	ErrInvalidIpAddress:       "invalid IP address",
	ErrInvalidPortNumber:      "invalid port number",
	ErrCannotOpenSocket:       "cannot open socket",
	ErrCannotBindSocket:       "cannot bind socket",
	ErrCannotListenOnSocket:   "cannot listen on socket",
	ErrSocketBroken:           "socket broken",
	ErrInvalidMagicPrefix:     "invalid magic prefix",
	ErrIncompatibleVersion:    "incompatible protocol version",
	ErrAcceptFailed:           "accept failed",
	ErrTimeout:                "operation timed out",
	ErrAddressInUse:           "address already in use",
	ErrResolveFailed:          "address resolution failed",
	ErrConnectionRefused:      "connection refused",
	ErrHostUnreachable:        "host unreachable",
	ErrNetworkDown:            "network down",
	ErrConnectFailed:          "connect failed",
	ErrNotReady:               "connection not ready",
	ErrAlreadyAssigned:        "death handler already assigned",
	ErrConnectionDead:         "connection is dead",
	ErrConnectionClosed:       "connection closed",
	ErrUninitialized:          "value never initialized",
}

func message(code liberr.CodeError) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return liberr.UnknownMessage
}

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgFabric, message)
}
