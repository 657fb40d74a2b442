// Package db carries the embedded goose migrations so deployed binaries do
// not depend on the source tree being present.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
