package domain

import "time"

type Role struct {
	ID        string
	Name      string
	Scopes    []string // parsed from space-delimited storage
	CreatedAt time.Time
	UpdatedAt time.Time
}
