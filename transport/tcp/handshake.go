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

package tcp

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"time"

	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
)

// magicPrefix is the fixed six-byte handshake preamble (§6).
var magicPrefix = [6]byte{'Y', 'O', 'G', 'I', ' ', ' '}

// versionFieldSize is the fixed, zero-padded size of the version string
// field exchanged during handshake.
const versionFieldSize = 16

// LocalVersion is this implementation's wire version string.
const LocalVersion = "1.0"

func majorMinor(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return v
	}
	return parts[0] + "." + parts[1]
}

// handshakeResult carries what the peer sent once the handshake is done.
type handshakeResult struct {
	peerVersion        string
	peerIdentification []byte
}

// doHandshake performs the symmetric handshake described in §4.3 over an
// already-connected net.Conn. identification is this end's identification
// blob; maxIdentSize bounds what the peer may declare.
func doHandshake(c net.Conn, identification []byte, maxIdentSize uint32, timeout time.Duration) (handshakeResult, liberr.Error) {
	deadline := time.Now().Add(timeout)
	if err := c.SetDeadline(deadline); err != nil {
		return handshakeResult{}, fabricerr.ErrSocketBroken.Error()
	}
	defer c.SetDeadline(time.Time{})

	out := make([]byte, 0, len(magicPrefix)+versionFieldSize+4+len(identification))
	out = append(out, magicPrefix[:]...)

	var verField [versionFieldSize]byte
	copy(verField[:], LocalVersion)
	out = append(out, verField[:]...)

	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(identification)))
	out = append(out, lenField[:]...)
	out = append(out, identification...)

	if _, err := c.Write(out); err != nil {
		return handshakeResult{}, classifyIOError(err)
	}

	header := make([]byte, len(magicPrefix)+versionFieldSize+4)
	if _, err := io.ReadFull(c, header); err != nil {
		return handshakeResult{}, classifyIOError(err)
	}

	if string(header[:len(magicPrefix)]) != string(magicPrefix[:]) {
		return handshakeResult{}, fabricerr.ErrInvalidMagicPrefix.Error()
	}

	peerVersion := strings.TrimRight(string(header[len(magicPrefix):len(magicPrefix)+versionFieldSize]), "\x00")
	if majorMinor(peerVersion) != majorMinor(LocalVersion) {
		return handshakeResult{}, fabricerr.ErrIncompatibleVersion.Error()
	}

	identLen := binary.BigEndian.Uint32(header[len(magicPrefix)+versionFieldSize:])
	if identLen > maxIdentSize {
		return handshakeResult{}, fabricerr.ErrIdentificationTooLarge.Error()
	}

	peerIdent := make([]byte, identLen)
	if identLen > 0 {
		if _, err := io.ReadFull(c, peerIdent); err != nil {
			return handshakeResult{}, classifyIOError(err)
		}
	}

	return handshakeResult{peerVersion: peerVersion, peerIdentification: peerIdent}, nil
}

func classifyIOError(err error) liberr.Error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fabricerr.ErrTimeout.Error()
	}
	if err == io.EOF {
		return fabricerr.ErrConnectionClosed.Error()
	}
	return fabricerr.ErrSocketBroken.Error()
}
