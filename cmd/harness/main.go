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

package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"jdwpagent.dev/threadcontrol/internal/tclog"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&statusCmd{}, "")
	subcommands.Register(&suspendCmd{}, "")
	subcommands.Register(&resumeCmd{}, "")
	subcommands.Register(&suspendAllCmd{}, "")
	subcommands.Register(&resumeAllCmd{}, "")
	subcommands.Register(&popFrameCmd{}, "")

	var verbose bool
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()
	if verbose {
		tclog.SetLevel(logrus.DebugLevel)
	}

	setDebugSigHandler()

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
