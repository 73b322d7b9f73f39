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

package driver

import (
	"context"
	"net"
	"time"

	fabctx "github.com/yohummus/yogi-go/context"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
	"github.com/yohummus/yogi-go/logging"
	"github.com/yohummus/yogi-go/metrics"
	"github.com/yohummus/yogi-go/node"
	"github.com/yohummus/yogi-go/transport/tcp"
)

// Run starts a node listening on cfg.Listen and blocks accepting
// connections until ctx is canceled. Each accepted socket runs the TCP
// handshake and, on success, is attached to the node.
func Run(ctx context.Context, cfgPath string) error {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	verbosity := logging.ParseVerbosity(cfg.Verbosity)
	if err := logging.SetLogFile(cfg.LogFile, verbosity); err != nil {
		return err
	}
	defer logging.Shutdown()

	log := logging.Log()
	col := metrics.New()

	n := node.New(logging.Log)

	// runMeta carries listener-scoped metadata (and, per-connection, a
	// clone carrying the remote address) alongside the lifetime ctx, so a
	// future handler can pull it back out via Load without threading extra
	// parameters through Accept/AddConnection.
	runMeta := fabctx.NewConfig[string](func() context.Context { return ctx })
	runMeta.Store("listen", cfg.Listen)

	ln, lerr := net.Listen("tcp", cfg.Listen)
	if lerr != nil {
		return fabricerr.ErrCannotListenOnSocket.Error(lerr)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Infof("node listening on %s", cfg.Listen)

	tcpCfg := tcp.Config{
		HandshakeTimeout:      cfg.HandshakeTimeout,
		HeartbeatTimeout:      cfg.HeartbeatTimeout,
		MaxIdentificationSize: cfg.MaxIdentificationSize,
		RingBufferSize:        cfg.RingBufferSize,
		Logger:                logging.Log,
	}

	for {
		nc, aerr := ln.Accept()
		if aerr != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.WithError(aerr).Warn("accept failed")
				continue
			}
		}

		connMeta := runMeta.Clone(nil)
		connMeta.Store("remote", nc.RemoteAddr().String())

		go func(nc net.Conn) {
			remote, _ := connMeta.Load("remote")
			c, herr := tcp.Accept(nc, []byte(cfg.Identification), tcpCfg)
			if herr != nil {
				log.WithError(herr).WithField("remote", remote).Warn("handshake failed")
				return
			}

			col.ConnectionOpened()
			if aerr := n.AddConnection(c, time.Duration(cfg.HandshakeTimeout)); aerr != nil {
				log.WithError(aerr).WithField("remote", remote).Warn("could not attach connection to node")
				c.Close()
				col.ConnectionClosed()
				return
			}
		}(nc)
	}
}
