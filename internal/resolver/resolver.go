// Package resolver maps a bounced recipient onto the routes subscribed to it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"email-hook-go/internal/model"
)

// ErrInvalidAddress is returned for addresses without a user and domain.
var ErrInvalidAddress = errors.New("invalid recipient address")

// RouteFinder is the route lookup the resolver needs from the store.
type RouteFinder interface {
	FindRoutes(ctx context.Context, domain, user string) ([]model.Route, error)
}

// Resolver finds the active routes for a recipient. Catch-all and user
// routes both fire; matching is case-insensitive.
type Resolver struct {
	routes    RouteFinder
	delimiter string
}

// New creates a Resolver. A non-empty delimiter strips sub-addressing
// ("user+tag" becomes "user") before matching.
func New(routes RouteFinder, delimiter string) *Resolver {
	return &Resolver{routes: routes, delimiter: delimiter}
}

// Resolve returns every active route matching address. No match is not an
// error.
func (r *Resolver) Resolve(ctx context.Context, address string) ([]model.Route, error) {
	user, domain, err := r.Split(address)
	if err != nil {
		return nil, err
	}

	routes, err := r.routes.FindRoutes(ctx, domain, user)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve routes for %s: %w", address, err)
	}
	return routes, nil
}

// Split returns the normalized user and domain of address.
func (r *Resolver) Split(address string) (string, string, error) {
	at := strings.LastIndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	user := strings.ToLower(strings.TrimSpace(address[:at]))
	domain := strings.ToLower(strings.TrimSpace(address[at+1:]))

	if r.delimiter != "" {
		if i := strings.Index(user, r.delimiter); i > 0 {
			user = user[:i]
		}
	}
	if user == "" || domain == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return user, domain, nil
}
