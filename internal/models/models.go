package models

import (
	"strings"
	"time"
)

// MediaType classifies a stored media file by its role in a broadcast.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
	MediaTypeImage MediaType = "image"
)

// LimitType selects how a plan's watch-time allowance is accounted.
type LimitType string

const (
	// LimitTypeDaily zeroes the usage counter at UTC date rollover.
	LimitTypeDaily LimitType = "daily"
	// LimitTypeTotal never resets; once spent the allowance is gone.
	LimitTypeTotal LimitType = "total"
)

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"passwordHash,omitempty"`
	Role           string    `json:"role"`
	PlanID         string    `json:"planId"`
	StorageUsed    int64     `json:"storageUsed"`
	UsageSeconds   int64     `json:"usageSeconds"`
	LastUsageReset string    `json:"lastUsageReset,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsAdmin reports whether the user holds the admin role, ignoring case.
func (u User) IsAdmin() bool {
	return strings.EqualFold(u.Role, "admin")
}

type Plan struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	MaxStorageMB     int64     `json:"maxStorageMb"`
	AllowedTypes     []string  `json:"allowedTypes"`
	MaxActiveStreams int       `json:"maxActiveStreams"`
	DailyLimitHours  int       `json:"dailyLimitHours"`
	LimitType        LimitType `json:"limitType"`
	PriceText        string    `json:"priceText,omitempty"`
	FeaturesText     string    `json:"featuresText,omitempty"`
}

// Allows reports whether the plan permits broadcasting the given media type.
// Image files ride along with any plan since they only serve as cover art.
func (p Plan) Allows(t MediaType) bool {
	if t == MediaTypeImage {
		return true
	}
	for _, allowed := range p.AllowedTypes {
		if strings.EqualFold(allowed, string(t)) {
			return true
		}
	}
	return false
}

// LimitSeconds is the watch-time ceiling in seconds derived from the plan's
// configured hour allowance.
func (p Plan) LimitSeconds() int64 {
	return int64(p.DailyLimitHours) * 3600
}

type MediaFile struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	Type      MediaType `json:"type"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"createdAt"`
}

// StreamInfo is the read-only projection of an active broadcast returned by
// status queries. The engine owns the authoritative session state.
type StreamInfo struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Platform  string    `json:"platform"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
}

// ClassifyExtension maps a file extension (with or without leading dot) to a
// media type. Anything that is not a known audio or image extension counts as
// video, mirroring the engine's classifier extension groups.
func ClassifyExtension(ext string) MediaType {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	switch ext {
	case "mp3", "aac", "wav", "m4a", "flac", "ogg":
		return MediaTypeAudio
	case "jpg", "jpeg", "png", "gif", "webp", "bmp":
		return MediaTypeImage
	default:
		return MediaTypeVideo
	}
}
