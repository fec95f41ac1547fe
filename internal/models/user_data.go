package models

// UserData is the body returned by the protected endpoint.
// The endpoint contract uses "email" for the caller's identity.
type UserData struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}
