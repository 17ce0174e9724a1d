package storage

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"

	"loopcast/internal/models"
)

// usageDay renders the UTC date used for daily reset bookkeeping.
func usageDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// syncUsage applies the reset policy: plans accounted daily zero their
// counter when the UTC date has rolled over since the last reset; plans
// accounted against a lifetime total never reset. It returns the possibly
// updated user and whether anything changed.
func syncUsage(user models.User, plan models.Plan, now time.Time) (models.User, bool) {
	if plan.LimitType == models.LimitTypeTotal {
		return user, false
	}
	today := usageDay(now)
	if user.LastUsageReset == today {
		return user, false
	}
	user.UsageSeconds = 0
	user.LastUsageReset = today
	return user, true
}

// newID produces a random identifier with a type prefix, e.g. "usr_3fa2…".
func newID(prefix string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return prefix + "_" + hex.EncodeToString(buf)
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
