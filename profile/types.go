package profile

// Profile holds a user's reading preferences.
type Profile struct {
	UserID string `json:"user_id"`
	Voice  Voice  `json:"voice"`
}

// Voice is the speaker and speed a user's messages are read with. Zero
// fields fall back to the configured defaults.
type Voice struct {
	Speaker string  `json:"speaker,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}
