package http

type User struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
}

type RegisterResponse struct {
	OK             bool `json:"ok"`
	User           User `json:"user"`
	DeliveryFailed bool `json:"deliveryFailed,omitempty"`
}

type LoginResponse struct {
	Token          string `json:"token,omitempty"`
	ExpiresIn      int64  `json:"expiresIn,omitempty"`
	TwoFARequired  bool   `json:"twoFaRequired,omitempty"`
	User           User   `json:"user"`
	DeliveryFailed bool   `json:"deliveryFailed,omitempty"`
}

type VerifyTwoFactorResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

type OKResponse struct {
	OK             bool `json:"ok"`
	DeliveryFailed bool `json:"deliveryFailed,omitempty"`
}

type SessionResponse struct {
	User      User  `json:"user"`
	ExpiresAt int64 `json:"expiresAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
