// Copyright 2024 The Cockroach Authors
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

// hashbench measures the throughput of the hash tables under concurrent
// load.
//
//	hashbench --table sharded --threads 8 create-delete
//	hashbench --size 1000000 find
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashtab/internal/workload"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "hashbench: %+v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "hashbench",
		Usage: "Benchmark the hash tables under concurrent load",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "size",
				Aliases: []string{"n"},
				Value:   100000,
				Usage:   "Total number of keys",
				Sources: cli.EnvVars("HASHBENCH_SIZE"),
			},
			&cli.IntFlag{
				Name:    "threads",
				Aliases: []string{"t"},
				Value:   4,
				Usage:   "Number of concurrent workers",
				Sources: cli.EnvVars("HASHBENCH_THREADS"),
			},
			&cli.IntFlag{
				Name:    "reps",
				Aliases: []string{"r"},
				Value:   10,
				Usage:   "Number of repetitions",
				Sources: cli.EnvVars("HASHBENCH_REPS"),
			},
			&cli.StringFlag{
				Name:    "table",
				Value:   "all",
				Usage:   "Table kind: open, multi, sharded, chained or all",
				Sources: cli.EnvVars("HASHBENCH_TABLE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level: debug, info, warn or error",
				Sources: cli.EnvVars("HASHBENCH_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			opCommand("create-delete", "Insert every key, then erase every key"),
			opCommand("find", "Insert every key once, then look every key up"),
		},
	}
}

func opCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, err := newLogger(cmd.String("log-level"))
			if err != nil {
				return err
			}
			kinds, err := tableKinds(cmd.String("table"))
			if err != nil {
				return err
			}
			for _, kind := range kinds {
				res, err := workload.Run(ctx, name, workload.Config{
					Kind:    kind,
					Size:    int(cmd.Int("size")),
					Threads: int(cmd.Int("threads")),
					Reps:    int(cmd.Int("reps")),
					Logger:  logger,
				})
				if err != nil {
					return errors.Wrapf(err, "%s %s", name, kind)
				}
				logger.Info("result", slog.Any("result", res))
			}
			return nil
		},
	}
}

func tableKinds(s string) ([]workload.Kind, error) {
	if s == "all" {
		return workload.Kinds, nil
	}
	k, err := workload.ParseKind(s)
	if err != nil {
		return nil, err
	}
	return []workload.Kind{k}, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      l,
		TimeFormat: "[15:04:05.000]", // millisecond
	})), nil
}
