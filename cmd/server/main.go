// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/procflowio/procflow/cmd/server/bootstrap"
)

func main() {
	app := &cli.App{
		Name:  "ProcFlow server",
		Usage: "start the ProcFlow process execution engine",
		Action: func(c *cli.Context) error {
			bootstrap.StartProcFlowServerCli(c)
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  bootstrap.FlagConfig,
				Value: "./config/development.yaml",
				Usage: "the config to start the ProcFlow server",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
