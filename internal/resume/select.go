// Package resume chooses which platform a reader continues on.
package resume

import (
	"strings"

	"mangasync/pkg/models"
)

type Reason string

const (
	ReasonManualOverride Reason = "manual_override"
	ReasonPreferred      Reason = "preferred_platform"
	ReasonLastSelected   Reason = "last_selected"
	ReasonCanonical      Reason = "canonical"
	ReasonAlternative    Reason = "first_alternative"
	ReasonNone           Reason = "none"
)

type Selection struct {
	Platform string `json:"platform,omitempty"`
	URL      string `json:"url,omitempty"`
	Reason   Reason `json:"reason"`
}

// Select walks the priority chain; the first platform that is present in
// the unified view with a non-empty URL wins. A present platform without a
// URL is skipped, not matched.
func Select(u *models.UnifiedProgress, prefs models.Preferences, manualOverride string) Selection {
	if u == nil {
		return Selection{Reason: ReasonNone}
	}
	urls := available(u)

	if p := normalizePlatform(manualOverride); p != "" {
		if url, ok := urls[p]; ok {
			return Selection{Platform: p, URL: url, Reason: ReasonManualOverride}
		}
	}
	for _, p := range prefs.PreferredPlatforms {
		p = normalizePlatform(p)
		if url, ok := urls[p]; ok {
			return Selection{Platform: p, URL: url, Reason: ReasonPreferred}
		}
	}
	if p := normalizePlatform(prefs.LastSelectedPlatform); p != "" {
		if url, ok := urls[p]; ok {
			return Selection{Platform: p, URL: url, Reason: ReasonLastSelected}
		}
	}
	if u.ResumeURL != "" {
		return Selection{Platform: u.CurrentPlatform, URL: u.ResumeURL, Reason: ReasonCanonical}
	}
	for _, alt := range u.Alternatives {
		if alt.ResumeURL != "" {
			return Selection{Platform: alt.Platform, URL: alt.ResumeURL, Reason: ReasonAlternative}
		}
	}
	return Selection{Reason: ReasonNone}
}

// SelectResumeURL returns "" when nothing has a usable URL.
func SelectResumeURL(u *models.UnifiedProgress, prefs models.Preferences, manualOverride string) string {
	return Select(u, prefs, manualOverride).URL
}

func available(u *models.UnifiedProgress) map[string]string {
	out := make(map[string]string, len(u.Alternatives)+1)
	if u.ResumeURL != "" {
		out[u.CurrentPlatform] = u.ResumeURL
	}
	for _, alt := range u.Alternatives {
		if alt.ResumeURL == "" {
			continue
		}
		if _, seen := out[alt.Platform]; !seen {
			out[alt.Platform] = alt.ResumeURL
		}
	}
	return out
}

func normalizePlatform(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
