package push

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"tilly/api/internal/metrics"
	"tilly/api/internal/store"
)

const (
	lockName = "notifications-dispatch"
	lockTTL  = 5 * time.Minute
)

type Store interface {
	ListNotificationSettings(ctx context.Context) ([]store.NotificationSettings, error)
	ListPushDevices(ctx context.Context, userID string) ([]store.PushDevice, error)
	CountDueReminders(ctx context.Context, userID, localDate string) (int, error)
	DisablePushDevice(ctx context.Context, deviceID string) error
	MarkNotificationDelivered(ctx context.Context, userID string, at time.Time) error
}

type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// Summary counts users per outcome of one dispatch run.
type Summary struct {
	Users     int `json:"users"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Dispatcher struct {
	store   Store
	sender  Sender
	locker  Locker
	metrics *metrics.Metrics
	appURL  string
}

func NewDispatcher(s Store, sender Sender, locker Locker, m *metrics.Metrics, appURL string) *Dispatcher {
	return &Dispatcher{store: s, sender: sender, locker: locker, metrics: m, appURL: appURL}
}

func (d *Dispatcher) Configured() bool {
	return d != nil && d.sender != nil
}

// Run sends the daily reminder summary to every user whose local
// notification time has passed today. Concurrent runs are rejected with
// cache.ErrLockHeld from the locker.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (Summary, error) {
	if !d.Configured() {
		return Summary{}, ErrNotConfigured
	}
	release, err := d.locker.AcquireLock(ctx, lockName, lockTTL)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	settings, err := d.store.ListNotificationSettings(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load notification settings: %w", err)
	}

	var summary Summary
	for _, item := range settings {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Users++
		switch d.dispatchUser(ctx, item, now) {
		case outcomeDelivered:
			summary.Delivered++
		case outcomeFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	d.metrics.ObservePush("delivered", summary.Delivered)
	d.metrics.ObservePush("skipped", summary.Skipped)
	d.metrics.ObservePush("failed", summary.Failed)
	log.Info("notification dispatch finished", "users", summary.Users, "delivered", summary.Delivered,
		"skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeFailed
)

func (d *Dispatcher) dispatchUser(ctx context.Context, settings store.NotificationSettings, now time.Time) outcome {
	logger := log.With("userId", settings.UserID)

	devices, err := d.store.ListPushDevices(ctx, settings.UserID)
	if err != nil {
		logger.Error("load push devices", "err", err)
		return outcomeFailed
	}
	decision, localDate := ShouldDeliver(settings, devices, now)
	if decision != DecisionDeliver {
		logger.Debug("notification skipped", "decision", decision)
		return outcomeSkipped
	}

	due, err := d.store.CountDueReminders(ctx, settings.UserID, localDate)
	if err != nil {
		logger.Error("count due reminders", "err", err)
		return outcomeFailed
	}
	if due == 0 {
		// Nothing to announce today; remember the date so later runs skip.
		if err := d.store.MarkNotificationDelivered(ctx, settings.UserID, now); err != nil {
			logger.Error("mark notification delivered", "err", err)
			return outcomeFailed
		}
		return outcomeSkipped
	}

	payload, err := ReminderPayload(settings.Language, d.appURL, settings.UserID, due).Marshal()
	if err != nil {
		logger.Error("marshal payload", "err", err)
		return outcomeFailed
	}
	if d.sendToDevices(ctx, devices, payload) == 0 {
		return outcomeFailed
	}
	if err := d.store.MarkNotificationDelivered(ctx, settings.UserID, now); err != nil {
		logger.Error("mark notification delivered", "err", err)
	}
	return outcomeDelivered
}

// sendToDevices returns how many enabled devices accepted payload. Devices
// whose subscription is gone are disabled.
func (d *Dispatcher) sendToDevices(ctx context.Context, devices []store.PushDevice, payload []byte) int {
	accepted := 0
	for _, device := range devices {
		if !device.IsEnabled {
			continue
		}
		status, err := d.sender.Send(ctx, device, payload)
		if err == nil {
			accepted++
			continue
		}
		log.Warn("push delivery failed", "deviceId", device.ID, "status", status, "err", err)
		if subscriptionGone(status) {
			if err := d.store.DisablePushDevice(ctx, device.ID); err != nil {
				log.Error("disable push device", "deviceId", device.ID, "err", err)
			}
		}
	}
	return accepted
}

// SendProbe sends a test notification to the user's enabled devices and
// returns how many accepted it.
func (d *Dispatcher) SendProbe(ctx context.Context, userID, language string) (int, error) {
	if !d.Configured() {
		return 0, ErrNotConfigured
	}
	devices, err := d.store.ListPushDevices(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load push devices: %w", err)
	}
	payload, err := ProbePayload(language, d.appURL, userID).Marshal()
	if err != nil {
		return 0, err
	}
	return d.sendToDevices(ctx, devices, payload), nil
}
