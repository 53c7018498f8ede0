// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"fmt"
	"net"
	"net/url"

	"github.com/iancoleman/strcase"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // load the SQL driver for postgres

	"github.com/procflowio/procflow/config"
)

const (
	driverName = "postgres"
	dsnFmt     = "postgres://%s@%s:%s/%s?sslmode=disable"
)

// NewDBSession creates a logical connection to the underlying Postgres
// database with snake_case field mapping.
func NewDBSession(cfg *config.SQL) (*sqlx.DB, error) {
	host, port, err := net.SplitHostPort(cfg.ConnectAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid connect address, it must be in host:port format, %v, err: %w", cfg.ConnectAddr, err)
	}

	db, err := sqlx.Connect(driverName, buildDSN(cfg, host, port))
	if err != nil {
		return nil, err
	}
	db.MapperFunc(strcase.ToSnake)
	return db, nil
}

func buildDSN(cfg *config.SQL, host string, port string) string {
	return fmt.Sprintf(dsnFmt, credentialString(cfg), host, port, cfg.DatabaseName)
}

func credentialString(cfg *config.SQL) string {
	credentials := url.QueryEscape(cfg.User)
	if cfg.Password != "" {
		credentials += ":" + url.QueryEscape(cfg.Password)
	}
	return credentials
}
