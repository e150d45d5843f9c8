package protocol

import (
	"crypto/md5"
	"regexp"

	"github.com/google/uuid"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)

// ValidUsername reports whether name is 1-16 characters of letters, digits
// and underscores.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// OfflineUUID derives the identity of a player in offline mode: a version 3
// UUID over "OfflinePlayer:" + name, with no namespace prefix.
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}
