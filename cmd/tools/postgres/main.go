// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/procflowio/procflow/config"
	storesql "github.com/procflowio/procflow/persistence/sql"
)

const defaultEndpoint = "127.0.0.1"
const defaultPort = 5432
const defaultUserName = "procflow"
const defaultPassword = "procflow"
const defaultDatabaseName = "procflow"
const defaultSchemaFilePath = "./persistence/sql/schema/procflow_tables.sql"

func main() {
	app := &cli.App{
		Name:  "procflow postgres tool",
		Usage: "tool for ProcFlow operation on postgres",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "endpoint",
				Aliases: []string{"e"},
				Value:   defaultEndpoint,
				Usage:   "hostname or ip address of the postgres host to connect to",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   defaultPort,
				Usage:   "port of the postgres host to connect to",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Value:   defaultUserName,
				Usage:   "user name used for authentication when connecting to postgres",
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"pw"},
				Value:   defaultPassword,
				Usage:   "password used for authentication when connecting to postgres",
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"db"},
				Value:   defaultDatabaseName,
				Usage:   "name of the postgres database",
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "create-database",
				Aliases: []string{"create"},
				Usage:   "creates the database",
				Action: func(c *cli.Context) error {
					return storesql.CreateDatabase(sqlConfig(c))
				},
			},
			{
				Name:    "install-schema",
				Aliases: []string{"install"},
				Usage:   "install the schema into the database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Value:   defaultSchemaFilePath,
						Usage:   "file path of the schema file to install",
					},
				},
				Action: func(c *cli.Context) error {
					return storesql.SetupSchema(sqlConfig(c), c.String("file"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func sqlConfig(c *cli.Context) *config.SQL {
	return &config.SQL{
		User:         c.String("user"),
		Password:     c.String("password"),
		DatabaseName: c.String("database"),
		ConnectAddr:  fmt.Sprintf("%v:%v", c.String("endpoint"), c.Int("port")),
	}
}
