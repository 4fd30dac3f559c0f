package models

// Actor is the authenticated identity performing a workflow action. Workflow guards compare
// IDs only; Email is carried for display and notification copy.
type Actor struct {
	ID    string
	Email string
	Role  UserRole
}

// ActorFromClaims builds an Actor from verified token claims.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
}

// Anonymous reports whether the actor carries no identity.
func (a Actor) Anonymous() bool {
	return a.ID == ""
}
