// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/suprsokr/mpqkit/internal/config"
)

var Version = "development"

// tool carries the state shared by every command.
type tool struct {
	cfg    config.Config
	logger *logrus.Logger
}

func newApp() *cli.App {
	t := &tool{cfg: config.Default(), logger: logrus.New()}

	return &cli.App{
		Name:    "mpqtool",
		Usage:   "create, inspect and modify MPQ archives",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML file with default settings",
				EnvVars: []string{"MPQTOOL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set the logging level [trace, debug, info, warn, error]",
				EnvVars: []string{"MPQTOOL_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "log in JSON format",
				EnvVars: []string{"MPQTOOL_LOG_JSON"},
			},
		},
		Before:   t.setup,
		Commands: t.commands(),
	}
}

// setup loads the config file and configures logging.
func (t *tool) setup(c *cli.Context) error {
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return errors.Wrapf(err, "load config %s", path)
		}
		t.cfg = cfg
	}
	if c.IsSet("log-level") {
		t.cfg.LogLevel = c.String("log-level")
	}

	level, err := logrus.ParseLevel(t.cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	t.logger.SetLevel(level)
	t.logger.SetOutput(c.App.ErrWriter)
	if c.Bool("log-json") {
		t.logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		t.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mpqtool: %v\n", err)
		os.Exit(1)
	}
}
