// Package migrations embeds the ordered goose migration files for the
// local store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
