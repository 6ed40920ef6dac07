package auth

import "time"

// User is the principal behind a login session. IsSuperUser is read at
// login only so the UI can show it; authorization decisions always go
// through the resolver.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	IsSuperUser  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
