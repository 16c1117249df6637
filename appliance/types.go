package appliance

import (
	"fmt"
	"time"
)

// Fields is a flat JSON object returned by the appliance API.
type Fields map[string]any

// Credentials are the appliance login credentials.
type Credentials struct {
	Username string
	Password string
}

// Session is an authenticated session on one appliance.
type Session struct {
	Target string
	ID     string
}

// Snapshot is the merged device info and usage stats of one appliance.
type Snapshot struct {
	Target    string
	Fields    Fields
	FetchedAt time.Time
}

// loginRequest is the body of the session login call.
type loginRequest struct {
	NewPassword *string  `json:"newPassword"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Password    string   `json:"password"`
	TypeID      string   `json:"typeId"`
}

// AuthError reports a failed login.
type AuthError struct {
	Target     string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("login to %s failed with status %d: %v", e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("login to %s failed: %v", e.Target, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a failed device info or stats call.
type FetchError struct {
	Target     string
	Resource   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s from %s failed with status %d: %v", e.Resource, e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s from %s failed: %v", e.Resource, e.Target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
