// Package migrations provides the embedded SQL schema for the chat engine.
package migrations

import "embed"

// Files holds every .sql file in this directory (order matters: 001, 002, ...).
//
//go:embed *.sql
var Files embed.FS
