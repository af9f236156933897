package users

import "time"

// User is an actor in the directory. Authentication lives elsewhere;
// this service only resolves identities for display.
type User struct {
	ID        int64
	Email     string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}
