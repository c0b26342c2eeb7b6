package sql

import _ "embed"

// Schema is the full database schema. Statements are idempotent, so it can
// be applied on every startup.
//
//go:embed schema.sql
var Schema string
