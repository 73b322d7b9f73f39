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

// Package driver runs a node as a standalone TCP listener process.
package driver

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/yohummus/yogi-go/duration"
	liberr "github.com/yohummus/yogi-go/errors"
	fabricerr "github.com/yohummus/yogi-go/errors/fabric"
	"github.com/yohummus/yogi-go/logging"
)

// Config holds everything yogid needs to run one node process, loaded
// from a YAML file via viper.
type Config struct {
	Listen                string            `mapstructure:"listen" validate:"required,hostname_port"`
	Identification        string            `mapstructure:"identification"`
	HandshakeTimeout      duration.Duration `mapstructure:"handshake_timeout" validate:"required"`
	HeartbeatTimeout      duration.Duration `mapstructure:"heartbeat_timeout" validate:"required"`
	MaxIdentificationSize uint32            `mapstructure:"max_identification_size" validate:"required"`
	RingBufferSize        int               `mapstructure:"ring_buffer_size" validate:"required,min=256"`
	LogFile               string            `mapstructure:"log_file"`
	Verbosity             string            `mapstructure:"verbosity" validate:"required"`
}

// DefaultConfig returns the config that applies when a field is absent
// from the YAML file.
func DefaultConfig() Config {
	return Config{
		Listen:                ":10000",
		HandshakeTimeout:      duration.ParseDuration(3 * time.Second),
		HeartbeatTimeout:      duration.ParseDuration(10 * time.Second),
		MaxIdentificationSize: 1024,
		RingBufferSize:        4096,
		Verbosity:             logging.Info.String(),
	}
}

// LoadConfig reads path (a YAML file) via viper, merges it over
// DefaultConfig, and validates the result.
func LoadConfig(path string) (Config, liberr.Error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fabricerr.ErrInvalidParam.Error(err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fabricerr.ErrInvalidParam.Error(err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fabricerr.ErrInvalidParam.Error(err)
	}

	return cfg, nil
}
