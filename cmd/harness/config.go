// Copyright 2024 The jdwpagent Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main implements a standalone harness for exercising the
// thread-control core against the simulated runtime backend, in the
// style of runsc/cmd's "do" subcommand: a small, testing-only driver,
// not a production entry point.
package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// scenarioConfig is the TOML shape a harness scenario file takes, e.g.:
//
//	virtual_threads_supported = true
//	carrier_slots = 4
//	events_per_second = 200
//
//	[[thread]]
//	virtual = false
//	steps = 3
//
//	[[thread]]
//	virtual = true
//	steps = 10
type scenarioConfig struct {
	VirtualThreadsSupported bool           `toml:"virtual_threads_supported"`
	CarrierSlots            int64          `toml:"carrier_slots"`
	EventsPerSecond         float64        `toml:"events_per_second"`
	RememberVirtualThreads  bool           `toml:"remember_virtual_threads"`
	Threads                 []threadConfig `toml:"thread"`
}

type threadConfig struct {
	Virtual bool `toml:"virtual"`
	Steps   int  `toml:"steps"`
}

func loadScenario(path string) (*scenarioConfig, error) {
	var cfg scenarioConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decoding scenario file %s: %w", path, err)
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 100
	}
	return &cfg, nil
}
