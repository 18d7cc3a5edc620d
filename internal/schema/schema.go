// Package schema orders the PostgreSQL migrations of every store. The
// migration library numbers steps by position, so the order here is part of
// the on-disk schema and new steps are only ever appended.
package schema

import (
	"github.com/BurntSushi/migration"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
)

// Migrations returns all migrations in the order they were introduced.
func Migrations() []migration.Migrator {
	var all []migration.Migrator
	for _, set := range [][]migration.Migrator{
		tasks.Migrations,
		content.Migrations,
		snapshot.Migrations,
		apikey.Migrations,
	} {
		all = append(all, set...)
	}
	return all
}
