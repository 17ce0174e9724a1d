package storage

import "loopcast/internal/models"

// DefaultPlans are the tiers seeded on first boot. Existing plans are never
// overwritten, so operators can tune them after the fact.
func DefaultPlans() []models.Plan {
	return []models.Plan{
		{
			ID:               "trial",
			Name:             "Free Trial",
			MaxStorageMB:     2048,
			AllowedTypes:     []string{"video", "audio"},
			MaxActiveStreams: 3,
			DailyLimitHours:  5,
			LimitType:        models.LimitTypeTotal,
			PriceText:        "Free",
			FeaturesText:     "720p output, 5 hours of total stream time, multi-stream ready",
		},
		{
			ID:               "creator",
			Name:             "Creator Pro",
			MaxStorageMB:     10240,
			AllowedTypes:     []string{"video", "audio"},
			MaxActiveStreams: 5,
			DailyLimitHours:  24,
			LimitType:        models.LimitTypeDaily,
			PriceText:        "$9/mo",
			FeaturesText:     "24/7 looping, multiple destinations, video and audio sources",
		},
		{
			ID:               "radio",
			Name:             "Radio 24/7",
			MaxStorageMB:     5120,
			AllowedTypes:     []string{"audio"},
			MaxActiveStreams: 3,
			DailyLimitHours:  24,
			LimitType:        models.LimitTypeDaily,
			PriceText:        "$6/mo",
			FeaturesText:     "Audio playlists with cover art visual, 24/7 looping",
		},
		{
			ID:               "dedicated",
			Name:             "Dedicated",
			MaxStorageMB:     25600,
			AllowedTypes:     []string{"video", "audio"},
			MaxActiveStreams: 10,
			DailyLimitHours:  24,
			LimitType:        models.LimitTypeDaily,
			PriceText:        "$25/mo",
			FeaturesText:     "Dedicated capacity, unlimited destinations, priority support",
		},
	}
}

// defaultSettings seeds the landing-page copy. Keys absent from the table
// fall back to these values; present keys win.
func defaultSettings() map[string]string {
	return map[string]string{
		"landing_title":     "Broadcast anywhere, from any server.",
		"landing_desc":      "Loop your media library into a 24/7 live stream.",
		"landing_btn_reg":   "Sign up",
		"landing_btn_login": "Log in",
	}
}

const (
	defaultAdminUsername = "admin"
	defaultAdminPlanID   = "dedicated"
)
