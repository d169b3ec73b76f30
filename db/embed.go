// Package db embeds the tenant database schema.
package db

import _ "embed"

// Schema contains the DDL applied to each tenant database.
//
//go:embed migrations/001_schema.sql
var Schema string
