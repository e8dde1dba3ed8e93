package util

import (
	"crypto/rand"
	"encoding/hex"
)

// ID prefixes for every record type.
const (
	PrefixPerson   = "per"
	PrefixNote     = "note"
	PrefixReminder = "rem"
	PrefixGroup    = "grp"
	PrefixInvite   = "inv"
	PrefixDevice   = "dev"
	PrefixMessage  = "msg"
)

func NewID(prefix string) string {
	return withPrefix(prefix, RandomHex(16))
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func withPrefix(prefix, value string) string {
	if prefix == "" {
		return value
	}
	return prefix + "_" + value
}
