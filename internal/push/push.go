// Package push delivers Web Push messages signed with the service's VAPID
// key pair. Delivery failures carry whether the endpoint is permanently dead,
// so callers can drop stale subscriptions.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
)

type Subscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// DeliveryError wraps a failed send. Permanent means the endpoint no longer
// exists and the subscription should be deleted; anything else is transient
// and is not retried.
type DeliveryError struct {
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("push delivery failed permanently: %v", e.Err)
	}
	return fmt.Sprintf("push delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// Sender is the transport the notification dispatcher fans out through.
type Sender interface {
	Send(ctx context.Context, sub Subscription, body string) error
}

type WebPushSender struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        int
}

func NewWebPushSender(publicKey, privateKey, subscriber string) *WebPushSender {
	return &WebPushSender{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		ttl:        3600,
	}
}

func (s *WebPushSender) Send(ctx context.Context, sub Subscription, body string) error {
	resp, err := webpush.SendNotificationWithContext(ctx, []byte(body), &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &DeliveryError{Permanent: true, Err: fmt.Errorf("endpoint returned status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &DeliveryError{Err: fmt.Errorf("push service returned status %d", resp.StatusCode)}
	}

	return nil
}

// NopSender discards every notification. Used when VAPID keys are absent so
// the rest of the pipeline still runs.
type NopSender struct{}

func (NopSender) Send(ctx context.Context, sub Subscription, body string) error {
	return nil
}
