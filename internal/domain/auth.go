package domain

// ============================================================
// Auth request / response types (backend API contract)
// ============================================================

// LoginRequest is the body for POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body for POST /register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleLoginRequest is the body for POST /login/google. The identity
// token is obtained from the external sign-in SDK and treated as opaque.
type GoogleLoginRequest struct {
	IDToken string `json:"idToken"`
}

// AuthPayload is the body for 200 from POST /login and POST /login/google.
type AuthPayload struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// RegisterResponse is the body for 201 from POST /register.
// Registration does not issue a token; the client follows up with a login.
type RegisterResponse struct {
	User *User `json:"user"`
}

// VerifyResponse is the body for 200 from GET /session/verify.
type VerifyResponse struct {
	User *User `json:"user"`
}

// ============================================================
// Garzon auth
// ============================================================

// GarzonLoginRequest is the body for POST /garzon/login.
type GarzonLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// GarzonLoginResponse is the body for 200 from POST /garzon/login.
type GarzonLoginResponse struct {
	Token     string           `json:"token"`
	Dashboard *GarzonDashboard `json:"dashboardData"`
}
