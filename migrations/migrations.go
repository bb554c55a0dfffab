// Package migrations embeds the schema for each supported store.
package migrations

import "embed"

//go:embed mysql/*.sql postgres/*.sql
var FS embed.FS
