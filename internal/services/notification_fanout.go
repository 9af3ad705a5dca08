package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"
	"bloodsos/pkg/push"
	"bloodsos/pkg/sms"

	"golang.org/x/sync/errgroup"
)

// NotificationFanout is fire-and-forget: per-candidate failures are counted and
// logged, never returned.
type NotificationFanout interface {
	Broadcast(ctx context.Context, request *models.SOSRequest, candidates []models.Candidate) models.DeliveryReport
}

// PushSender is satisfied by *push.Router.
type PushSender interface {
	Enabled() bool
	Send(ctx context.Context, platform string, request *push.NotificationRequest) (*push.NotificationResponse, error)
}

// DeliveryObserver receives one call per finished send.
type DeliveryObserver interface {
	ObserveNotification(channel string, success bool)
}

type FanoutConfig struct {
	Timeout     time.Duration
	Concurrency int
}

type notificationFanout struct {
	push     PushSender
	sms      sms.SMSProvider
	cfg      FanoutConfig
	observer DeliveryObserver
	log      *logger.Logger
}

// NewNotificationFanout accepts nil for either channel; a nil channel is skipped.
func NewNotificationFanout(pushSender PushSender, smsProvider sms.SMSProvider, cfg FanoutConfig, observer DeliveryObserver, log *logger.Logger) NotificationFanout {
	if cfg.Timeout <= 0 {
		cfg.Timeout = utils.NotificationTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = utils.NotificationConcurrency
	}
	if pushSender != nil && !pushSender.Enabled() {
		pushSender = nil
	}
	return &notificationFanout{
		push:     pushSender,
		sms:      smsProvider,
		cfg:      cfg,
		observer: observer,
		log:      log,
	}
}

func AlertMessage(bloodType, hospitalName string) string {
	return fmt.Sprintf(utils.SOSMessageTemplate, bloodType, hospitalName)
}

func (f *notificationFanout) Broadcast(ctx context.Context, request *models.SOSRequest, candidates []models.Candidate) models.DeliveryReport {
	var (
		pushAttempted, pushSucceeded atomic.Int64
		smsAttempted, smsSucceeded   atomic.Int64
	)

	body := AlertMessage(request.BloodType, request.HospitalName)
	data := map[string]string{
		"type":          utils.EventAlertCreated,
		"request_id":    request.ID.Hex(),
		"hospital_id":   request.HospitalID,
		"hospital_name": request.HospitalName,
		"blood_type":    request.BloodType,
		"urgency":       string(request.Urgency),
	}

	// A plain group: one failed send must not cancel the others.
	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)

	for _, candidate := range candidates {
		if f.push != nil && candidate.PushToken != "" {
			pushAttempted.Add(1)
			g.Go(func() error {
				if f.sendPush(ctx, request, candidate, body, data) {
					pushSucceeded.Add(1)
				}
				return nil
			})
		}
		if f.sms != nil && candidate.Phone != "" {
			smsAttempted.Add(1)
			g.Go(func() error {
				if f.sendSMS(ctx, candidate, body) {
					smsSucceeded.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	report := models.DeliveryReport{
		Push: models.ChannelReport{Attempted: int(pushAttempted.Load()), Succeeded: int(pushSucceeded.Load())},
		SMS:  models.ChannelReport{Attempted: int(smsAttempted.Load()), Succeeded: int(smsSucceeded.Load())},
	}
	f.log.LogDispatchEvent(request.ID.Hex(), "notifications_sent", map[string]interface{}{
		"candidates":     len(candidates),
		"push_attempted": report.Push.Attempted,
		"push_succeeded": report.Push.Succeeded,
		"sms_attempted":  report.SMS.Attempted,
		"sms_succeeded":  report.SMS.Succeeded,
	})
	return report
}

func (f *notificationFanout) sendPush(ctx context.Context, request *models.SOSRequest, candidate models.Candidate, body string, data map[string]string) bool {
	notification := &push.NotificationRequest{
		Token:       candidate.PushToken,
		Title:       utils.SOSPushTitle,
		Body:        body,
		Data:        data,
		Sound:       "default",
		Priority:    "high",
		TTL:         int(utils.DefaultRequestTTL / time.Second),
		CollapseKey: request.ID.Hex(),
		Android:     &push.AndroidConfig{ChannelID: "sos_alerts", Priority: "high"},
	}
	if request.Urgency == models.UrgencyCritical {
		notification.IOS = &push.IOSConfig{InterruptLevel: "critical"}
	} else {
		notification.IOS = &push.IOSConfig{InterruptLevel: "time-sensitive"}
	}

	err := f.withTimeout(ctx, func(ctx context.Context) error {
		_, err := f.push.Send(ctx, candidate.PushPlatform, notification)
		return err
	})
	f.record(utils.NotificationPush, candidate.DonorID, err)
	return err == nil
}

func (f *notificationFanout) sendSMS(ctx context.Context, candidate models.Candidate, body string) bool {
	err := f.withTimeout(ctx, func(ctx context.Context) error {
		_, err := f.sms.SendSMS(ctx, &sms.SMSRequest{
			To:      candidate.Phone,
			Message: body,
			Type:    "transactional",
		})
		return err
	})
	f.record(utils.NotificationSMS, candidate.DonorID, err)
	return err == nil
}

// withTimeout bounds a send even when the provider ignores its context. The
// goroutine of a hung provider is left to finish on its own.
func (f *notificationFanout) withTimeout(ctx context.Context, send func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- send(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *notificationFanout) record(channel, donorID string, err error) {
	f.log.LogNotificationEvent(channel, donorID, err == nil, err)
	if f.observer != nil {
		f.observer.ObserveNotification(channel, err == nil)
	}
}
