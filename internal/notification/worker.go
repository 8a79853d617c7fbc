package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"presence-tracker-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers that push threshold alerts to all
// registered browser subscriptions. It satisfies the engine's alert sink.
type WorkerPool struct {
	size    int
	jobs    chan string
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size*4),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case hwAddr := <-wp.jobs:
			log.Printf("Notification worker %d processing device %s", id, hwAddr)
			wp.sendThresholdAlert(ctx, hwAddr)
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// ThresholdExceeded queues a threshold alert for the device. Delivery is
// best-effort: if the queue is full the alert is dropped and logged rather
// than blocking the caller's request path.
func (wp *WorkerPool) ThresholdExceeded(hwAddr string) {
	select {
	case wp.jobs <- hwAddr:
	default:
		log.Printf("Notification queue full; dropping threshold alert for device %s", hwAddr)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan string {
	return wp.jobs
}

// sendThresholdAlert fetches all subscriptions and pushes the alert message.
func (wp *WorkerPool) sendThresholdAlert(ctx context.Context, hwAddr string) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions for device %s: %v", hwAddr, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	deviceLabel := hwAddr
	var device model.Device
	if err := wp.db.WithContext(ctx).
		Select("owner_name").
		First(&device, "hw_addr = ?", hwAddr).Error; err != nil {
		log.Printf("Error fetching device %s: %v", hwAddr, err)
	} else if device.OwnerName != "" {
		deviceLabel = device.OwnerName
	}

	log.Printf("Sending %d threshold alerts for device %s", len(subscriptions), hwAddr)

	message := fmt.Sprintf("%s has exceeded the monthly stay threshold.", deviceLabel)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
