package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"email-hook-go/internal/config"
	"email-hook-go/internal/model"
	"email-hook-go/internal/store"
)

// runInit creates or upgrades the schema and inserts any seed routes.
func runInit(ctx context.Context, cfg *config.Config, specs []string) error {
	routes := make([]model.Route, 0, len(specs))
	for _, spec := range specs {
		route, err := ParseRouteSpec(spec)
		if err != nil {
			return err
		}
		routes = append(routes, route)
	}

	s, _, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return err
	}
	logrus.Info("Database schema is up to date")

	for i := range routes {
		if err := s.CreateRoute(ctx, &routes[i]); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"id":     routes[i].ID,
			"domain": routes[i].Domain,
			"user":   routes[i].User,
			"url":    routes[i].URL,
		}).Info("Route created")
	}
	return nil
}

// ParseRouteSpec parses "TARGET,URL,SECRET" where TARGET is user@domain
// for a user route, or *@domain or a bare domain for a catch-all.
func ParseRouteSpec(spec string) (model.Route, error) {
	parts := strings.SplitN(spec, ",", 3)
	if len(parts) != 3 {
		return model.Route{}, fmt.Errorf("invalid route %q: want TARGET,URL,SECRET", spec)
	}
	target := strings.TrimSpace(parts[0])
	rawURL := strings.TrimSpace(parts[1])
	secret := strings.TrimSpace(parts[2])

	if target == "" || secret == "" {
		return model.Route{}, fmt.Errorf("invalid route %q: target and secret are required", spec)
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.Route{}, fmt.Errorf("invalid route %q: url must be absolute http(s)", spec)
	}

	route := model.Route{URL: rawURL, SecretToken: secret, IsActive: true}
	user, domain, found := strings.Cut(target, "@")
	if !found {
		domain, user = target, ""
	}
	if domain == "" || strings.Contains(domain, "@") {
		return model.Route{}, fmt.Errorf("invalid route %q: bad target %q", spec, target)
	}
	route.Domain = strings.ToLower(domain)
	if user != "" && user != "*" {
		user = strings.ToLower(user)
		route.User = &user
	}
	return route, nil
}
