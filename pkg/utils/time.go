package utils

import "time"

// Now returns the current time in UTC timezone
func Now() time.Time {
	return time.Now().UTC()
}

// NowMillis returns the current time as milliseconds since the Unix epoch.
func NowMillis() int64 {
	return Now().UnixMilli()
}

// MillisToTime converts a unix timestamp in milliseconds to a UTC time.Time
func MillisToTime(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(timestamp).UTC()
}

// FormatISO8601 formats a time.Time to ISO8601 format in UTC
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
