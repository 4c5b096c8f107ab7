package domain

import "time"

// AppType distinguishes interactive (browser) clients from machine ones.
type AppType string

const (
	AppTypeInteractive AppType = "interactive"
	AppTypeMachine     AppType = "machine"
)

type App struct {
	ID           string
	ClientID     string
	Name         string
	SecretHash   string // argon2 encoded, empty for public interactive apps
	Type         AppType
	RedirectURIs []string
	Scopes       []string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AllowsRedirect reports whether uri is registered for the app. Exact
// string comparison, no wildcarding.
func (a *App) AllowsRedirect(uri string) bool {
	for _, allowed := range a.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the app may request the given scope.
func (a *App) AllowsScope(scope string) bool {
	for _, allowed := range a.Scopes {
		if allowed == scope {
			return true
		}
	}
	return false
}
