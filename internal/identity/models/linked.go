package models

import (
	"strings"
	"time"

	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
)

// MaxPlatformNameLen bounds platform names on link claims.
const MaxPlatformNameLen = 32

// LinkedPlatform records one approved link between an anchor and a secondary
// account on a named platform. Multiple links per (anchor, platform) are
// legal: one person can hold several accounts on the same platform.
type LinkedPlatform struct {
	Anchor        domain.Address `json:"anchor"`
	Linked        domain.Address `json:"linked"`
	Platform      string         `json:"platform"`
	Justification string         `json:"justification"`
	LinkedAt      time.Time      `json:"linked_at"`
}

// ParsePlatform validates a platform name at a trust boundary.
func ParsePlatform(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "platform is required")
	}
	if len(raw) > MaxPlatformNameLen {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "platform exceeds %d characters", MaxPlatformNameLen)
	}
	return raw, nil
}
