// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/ivan2020J/nozier/internal/store"
	"github.com/ivan2020J/nozier/internal/update"
)

// NewStore opens a SQLite store in a per-test temporary directory and closes
// it when the test ends.
func NewStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "nozier.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewVersions returns a version triple with sensible defaults.
func NewVersions() update.Versions {
	return update.Versions{
		Language: "8.2.12",
		Database: "10.11.6-MariaDB",
		Platform: "6.4.3",
	}
}

// NewDescriptor returns a pending plugin update with sensible defaults.
// Override individual fields with the With* options.
func NewDescriptor(opts ...func(*update.Descriptor)) update.Descriptor {
	d := update.Descriptor{
		ID:        "plugin-akismet",
		Name:      "Akismet Anti-spam",
		Current:   "5.3",
		Available: "5.3.1",
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithID sets the descriptor id.
func WithID(id string) func(*update.Descriptor) {
	return func(d *update.Descriptor) { d.ID = id }
}

// WithName sets the display name.
func WithName(name string) func(*update.Descriptor) {
	return func(d *update.Descriptor) { d.Name = name }
}

// WithVersions sets the installed and available versions.
func WithVersions(current, available string) func(*update.Descriptor) {
	return func(d *update.Descriptor) {
		d.Current = current
		d.Available = available
	}
}
