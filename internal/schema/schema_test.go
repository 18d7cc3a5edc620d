package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
)

func TestMigrationsIncludeEveryStore(t *testing.T) {
	want := len(tasks.Migrations) + len(content.Migrations) + len(snapshot.Migrations) + len(apikey.Migrations)
	all := Migrations()
	assert.Len(t, all, want)
	for i, m := range all {
		assert.NotNil(t, m, "step %d", i)
	}
}
