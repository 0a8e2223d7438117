package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID returns a random v4 UUID string
func GenerateUUID() string {
	return uuid.NewString()
}

// GenerateRoomID returns a matchmaking room id: room_<uuid without dashes>
func GenerateRoomID() string {
	return "room_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// getEnvDefault returns the value of key, or def when unset or empty.
func getEnvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// getEnvFloat is getEnvDefault for numeric settings; bad values fall back to def.
func getEnvFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// truncateName cuts a display name to maxNameLen runes.
func truncateName(name string) string {
	r := []rune(name)
	if len(r) <= maxNameLen {
		return name
	}
	return string(r[:maxNameLen])
}
