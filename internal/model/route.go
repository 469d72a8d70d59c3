package model

import (
	"strings"

	"gorm.io/gorm"
)

// Route maps a recipient domain (and optionally a user) to a webhook subscriber.
// A nil User makes the route a catch-all for the domain.
type Route struct {
	ID          uint    `json:"id" gorm:"primaryKey;autoIncrement"`
	Domain      string  `json:"domain" gorm:"type:varchar(255);not null;index:idx_route_lookup,priority:1"`
	User        *string `json:"user" gorm:"column:user;type:varchar(255);index:idx_route_lookup,priority:2"`
	URL         string  `json:"url" gorm:"type:varchar(2048);not null"`
	SecretToken string  `json:"-" gorm:"type:varchar(255);not null"`
	IsActive    bool    `json:"is_active" gorm:"not null;index:idx_route_lookup,priority:3"`
}

// TableName specifies the table name for Route
func (Route) TableName() string {
	return "email_routes"
}

// BeforeSave lowercases the domain and user so lookups can compare exactly.
func (r *Route) BeforeSave(*gorm.DB) error {
	r.Domain = strings.ToLower(strings.TrimSpace(r.Domain))
	if r.User != nil {
		user := strings.ToLower(strings.TrimSpace(*r.User))
		if user == "" {
			r.User = nil
		} else {
			r.User = &user
		}
	}
	return nil
}

// IsCatchAll reports whether the route matches every user of its domain.
func (r Route) IsCatchAll() bool {
	return r.User == nil
}
