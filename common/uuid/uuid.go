// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package uuid

import (
	"database/sql/driver"
	"fmt"

	"github.com/gofrs/uuid"
)

// UUID represents a 16-byte universally unique identifier.
// It is a wrapper around gofrs/uuid with the following differences
//   - type is a byte slice instead of [16]byte so that it is compatible with some db drivers
//   - db serialization converts uuid to bytes as opposed to string
type UUID []byte

func MustNewUUID() UUID {
	newUuid, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}

	return newUuid[:]
}

// MustParseUUID returns a UUID parsed from the given string representation
// panics if the given input is malformed
func MustParseUUID(s string) UUID {
	parsed := uuid.FromStringOrNil(s)
	if parsed == uuid.Nil {
		panic("invalid UUID string: " + s)
	}

	return parsed[:]
}

// ParseUUID decodes s into a UUID or returns an error.
func ParseUUID(s string) (UUID, error) {
	parsed := uuid.FromStringOrNil(s)
	if parsed == uuid.Nil {
		return nil, fmt.Errorf("invalid UUID string: %s", s)
	}

	return parsed[:], nil
}

// String returns the 36 byte hexstring representation of this uuid
// return empty string if this uuid is nil
func (u UUID) String() string {
	if u == nil {
		return ""
	}

	parsed := uuid.FromBytesOrNil(u)
	if parsed == uuid.Nil {
		return ""
	}

	return parsed.String()
}

// Scan implements sql.Scanner interface to allow this type to be
// parsed transparently by database drivers
func (u *UUID) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	parsed := &uuid.UUID{}
	if err := parsed.Scan(src); err != nil {
		return err
	}
	*u = (*parsed)[:]
	return nil
}

// Value implements sql.Valuer so that UUIDs can be written to databases
// transparently. This method returns a byte slice representation of uuid
func (u UUID) Value() (driver.Value, error) {
	return []byte(u), nil
}
