package models

import "time"

// Preferences drives resume-target selection for a user.
type Preferences struct {
	UserID               string    `json:"user_id"`
	PreferredPlatforms   []string  `json:"preferred_platforms"`
	LastSelectedPlatform string    `json:"last_selected_platform,omitempty"`
	UpdatedAt            time.Time `json:"updated_at,omitempty"`
}
