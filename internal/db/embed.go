package db

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// getMigrationsFS returns the migration sources. A local migrations
// directory takes precedence so schema work in a checkout is picked up
// without rebuilding; deployed binaries use the embedded copy.
func getMigrationsFS() (fs.FS, error) {
	if info, err := os.Stat("migrations"); err == nil && info.IsDir() {
		return os.DirFS("migrations"), nil
	}
	return fs.Sub(embeddedMigrations, "migrations")
}

// MigrationsFS exposes the migration sources to callers outside the
// package (the migrate subcommand resolves them once at startup).
func MigrationsFS() (fs.FS, error) {
	return getMigrationsFS()
}
