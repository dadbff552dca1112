// Package db provides the embedded database schema for the postgres-backed
// cart ID store.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string
