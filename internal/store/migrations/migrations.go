// Package migrations embeds the SQL schema migrations for both database
// backends. Applied via golang-migrate at startup and by `migrate` CLI.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
