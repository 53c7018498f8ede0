// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/procflowio/procflow/config"
)

// adminDatabaseName is the maintenance database used for administrative
// statements that must run outside the target database.
const adminDatabaseName = "postgres"

// NOTE we have to use %v because postgres doesn't accept bind parameters in
// DDL statements
const createDatabaseQuery = "CREATE DATABASE %v"
const dropDatabaseQuery = "DROP DATABASE %v"

// newAdminDBSession connects to the maintenance database of the host in cfg.
func newAdminDBSession(cfg *config.SQL) (*sqlx.DB, error) {
	host, port, err := net.SplitHostPort(cfg.ConnectAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid connect address %v: %w", cfg.ConnectAddr, err)
	}
	return sqlx.Connect(driverName, fmt.Sprintf(dsnFmt, credentialString(cfg), host, port, adminDatabaseName))
}

// CreateDatabase creates the database named in cfg on its host.
func CreateDatabase(cfg *config.SQL) error {
	admin, err := newAdminDBSession(cfg)
	if err != nil {
		return err
	}
	defer admin.Close()
	_, err = admin.ExecContext(context.Background(), fmt.Sprintf(createDatabaseQuery, cfg.DatabaseName))
	return err
}

// DropDatabase drops the database named in cfg on its host.
func DropDatabase(cfg *config.SQL) error {
	admin, err := newAdminDBSession(cfg)
	if err != nil {
		return err
	}
	defer admin.Close()
	_, err = admin.ExecContext(context.Background(), fmt.Sprintf(dropDatabaseQuery, cfg.DatabaseName))
	return err
}

// SetupSchema executes the DDL file against the database named in cfg.
func SetupSchema(cfg *config.SQL, filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading contents of file %v: %w", filePath, err)
	}
	db, err := NewDBSession(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(context.Background(), string(content))
	return err
}
