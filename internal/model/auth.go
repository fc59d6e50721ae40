package model

import "github.com/golang-jwt/jwt/v5"

// ParticipantClaims are the JWT claims issued by the account service for students,
// tutors and admins. The subject is the participant identity.
type ParticipantClaims struct {
	UserType UserType `json:"userType"`
	jwt.RegisteredClaims
}

// ParticipantID returns the identity carried in the subject claim
func (c *ParticipantClaims) ParticipantID() string {
	return c.Subject
}
