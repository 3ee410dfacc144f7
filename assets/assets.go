// Package assets provides access to embedded static files such as SQL migrations.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var embedFS embed.FS

// Migrations returns the embedded migrations directory as a file system.
func Migrations() fs.FS {
	fsys, err := fs.Sub(embedFS, "migrations")
	if err != nil {
		panic(err)
	}
	return fsys
}
