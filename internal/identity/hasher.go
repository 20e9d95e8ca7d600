// Package identity derives the permanent and daily pseudonymous identifiers
// for a (user, IP, device) triple.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/config"
)

const (
	userPartWidth   = 8
	ipPartWidth     = 4
	devicePartWidth = 4
)

type DisplayParts struct {
	User   string
	IP     string
	Device string
}

type Hashes struct {
	DisplayUserID       string
	Display             DisplayParts
	PermanentUserHash   string
	PermanentIPHash     string
	PermanentDeviceHash string
}

type Hasher struct {
	pepper   []byte
	salt     []byte
	location *time.Location
	now      func() time.Time
}

func NewHasher(cfg *config.IdentityConfig) (*Hasher, error) {
	if cfg.PermanentPepper == "" || cfg.DailySalt == "" {
		return nil, apperr.Configuration("identity secrets are not configured")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, apperr.Configuration("invalid identity timezone " + cfg.Timezone)
	}
	return &Hasher{
		pepper:   []byte(cfg.PermanentPepper),
		salt:     []byte(cfg.DailySalt),
		location: loc,
		now:      time.Now,
	}, nil
}

// Derive never fails. IPv6 addresses are reduced to their /64 prefix first.
func (h *Hasher) Derive(userIdentifier, ipAddress, deviceInfo string) Hashes {
	ip := TruncateIP(ipAddress)
	day := h.now().In(h.location).Format(time.DateOnly)

	parts := DisplayParts{
		User:   h.displayPart(userIdentifier, day, userPartWidth),
		IP:     h.displayPart(ip, day, ipPartWidth),
		Device: h.displayPart(deviceInfo, day, devicePartWidth),
	}

	return Hashes{
		DisplayUserID:       strings.Join([]string{parts.User, parts.IP, parts.Device}, "-"),
		Display:             parts,
		PermanentUserHash:   h.Permanent(userIdentifier),
		PermanentIPHash:     h.Permanent(ip),
		PermanentDeviceHash: h.Permanent(deviceInfo),
	}
}

// Permanent returns the hex HMAC of value under the pepper.
func (h *Hasher) Permanent(value string) string {
	return hex.EncodeToString(mac(h.pepper, value))
}

func (h *Hasher) displayPart(value, day string, width int) string {
	sum := mac(h.salt, value+"-"+day)
	encoded := new(big.Int).SetBytes(sum[:16]).Text(62)
	if len(encoded) > width {
		encoded = encoded[:width]
	}
	return encoded
}

func mac(key []byte, value string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(value))
	return m.Sum(nil)
}
