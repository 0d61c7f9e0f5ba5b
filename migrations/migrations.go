// Package migrations embeds the SQL schema for the optional submission store.
package migrations

import "embed"

// FS holds the numbered up/down migration pairs.
//
//go:embed *.sql
var FS embed.FS
