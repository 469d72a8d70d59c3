// Package storetest provides an in-memory SQLite store and fixtures for
// tests in other packages.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"email-hook-go/internal/config"
	"email-hook-go/internal/model"
	"email-hook-go/internal/store"
)

// New returns a migrated store backed by a private in-memory database.
func New(t testing.TB) store.Store {
	t.Helper()

	s, _, err := store.Open(config.DatabaseConfig{URL: "sqlite::memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	t.Cleanup(func() { _ = s.Close() })
	return s
}

// AddRoute inserts an active route. An empty user creates a catch-all.
func AddRoute(t testing.TB, s store.Store, domain, user, url, secret string) model.Route {
	t.Helper()

	route := model.Route{Domain: domain, URL: url, SecretToken: secret, IsActive: true}
	if user != "" {
		route.User = &user
	}
	require.NoError(t, s.CreateRoute(context.Background(), &route))
	return route
}

// Enqueue inserts n items for route with the given payload and returns them.
func Enqueue(t testing.TB, s store.Store, route model.Route, payload string, n int) []*model.QueueItem {
	t.Helper()

	items := make([]*model.QueueItem, n)
	for i := range items {
		items[i] = &model.QueueItem{
			RouteID:     route.ID,
			URL:         route.URL,
			SecretToken: route.SecretToken,
			Payload:     payload,
		}
	}
	require.NoError(t, s.Enqueue(context.Background(), items))
	return items
}
