package service

import "github.com/noah-isme/archivia-api/internal/models"

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID    string
	Email string
	Name  string
	Role  models.Role
}

// ActorFromClaims builds an Actor from verified token claims.
func ActorFromClaims(c *models.JWTClaims) Actor {
	if c == nil {
		return Actor{}
	}
	name := c.FirstName
	if c.LastName != "" {
		name += " " + c.LastName
	}
	return Actor{ID: c.UserID, Email: c.Email, Name: name, Role: c.EffectiveRole()}
}
