package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"tilly/api/internal/store"
)

var ErrNotConfigured = errors.New("web push not configured")

// Sender delivers one payload to one device and reports the push service
// status code.
type Sender interface {
	Send(ctx context.Context, device store.PushDevice, payload []byte) (int, error)
}

type VAPIDSender struct {
	publicKey  string
	privateKey string
	subject    string
	client     *http.Client
}

func NewVAPIDSender(publicKey, privateKey, subject string) (*VAPIDSender, error) {
	if publicKey == "" || privateKey == "" {
		return nil, ErrNotConfigured
	}
	return &VAPIDSender{publicKey: publicKey, privateKey: privateKey, subject: subject, client: http.DefaultClient}, nil
}

func (s *VAPIDSender) Send(ctx context.Context, device store.PushDevice, payload []byte) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: device.Endpoint,
		Keys: webpush.Keys{
			Auth:   device.Auth,
			P256dh: device.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             60 * 60 * 12,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return 0, fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// GenerateVAPIDKeys returns a fresh (public, private) key pair.
func GenerateVAPIDKeys() (string, string, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keys: %w", err)
	}
	return publicKey, privateKey, nil
}

// subscriptionGone reports push service responses meaning the subscription
// will never work again.
func subscriptionGone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}
