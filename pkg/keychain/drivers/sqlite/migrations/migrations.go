// Package migrations embeds the SQLite schema for the keychain driver.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
