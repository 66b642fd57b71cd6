// Package migrations embeds the SQL schema files so binaries and tests can
// migrate a database without a migrations directory on disk.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
