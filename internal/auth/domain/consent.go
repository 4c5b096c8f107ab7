package domain

import "time"

// Consent records that a user granted an app access. Existence implies a
// prior grant; there is no partial-scope consent.
type Consent struct {
	UserID    string
	AppID     string
	GrantedAt time.Time
}
