package push

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tilly/api/internal/store"
)

type Decision string

const (
	DecisionTooEarly         Decision = "too_early"
	DecisionAlreadyDelivered Decision = "already_delivered"
	DecisionNoDevices        Decision = "no_devices"
	DecisionDeliver          Decision = "deliver"
)

const DefaultNotificationTime = "12:00"

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseClock parses HH:MM into minutes after midnight.
func ParseClock(value string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hours*60 + minutes, nil
}

// ShouldDeliver decides whether the daily notification is due for a user at
// now. It also returns the user's local calendar date (YYYY-MM-DD).
func ShouldDeliver(settings store.NotificationSettings, devices []store.PushDevice, now time.Time) (Decision, string) {
	loc := LoadLocation(settings.Timezone)
	local := now.In(loc)
	localDate := local.Format(time.DateOnly)

	target, err := ParseClock(settings.NotificationTime)
	if err != nil {
		target, _ = ParseClock(DefaultNotificationTime)
	}
	if local.Hour()*60+local.Minute() < target {
		return DecisionTooEarly, localDate
	}
	if settings.LastDeliveredAt != nil && settings.LastDeliveredAt.In(loc).Format(time.DateOnly) == localDate {
		return DecisionAlreadyDelivered, localDate
	}
	if enabledDevices(devices) == 0 {
		return DecisionNoDevices, localDate
	}
	return DecisionDeliver, localDate
}

func enabledDevices(devices []store.PushDevice) int {
	n := 0
	for _, device := range devices {
		if device.IsEnabled {
			n++
		}
	}
	return n
}
