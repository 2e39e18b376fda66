package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marketpay/internal/logger"
	"marketpay/internal/metrics"
	"marketpay/internal/user"
)

// Notification rule aliases and delivery groups, matching the templates the
// frontend and email provider know about.
const (
	AliasOrderPaid       = "orderPaid"
	AliasOrderPaidSeller = "orderPaidSeller"
)

const (
	GroupPaymentBuyer  = "payment_notifications_buyer"
	GroupPaymentSeller = "payment_notifications_seller"
)

const queueKey = "notifications"

const maxTries = 3

// Notification is one queued delivery job.
type Notification struct {
	ID             string            `json:"id"`
	Alias          string            `json:"alias"`
	UserID         int64             `json:"user_id"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Status         string            `json:"status"`
	TemplateParams map[string]string `json:"template_params"`
	Group          string            `json:"group"`
	Tries          int               `json:"tries"`
	Created        time.Time         `json:"created"`
}

type Service struct {
	redis    *redis.Client
	users    user.Repository
	from     string
	fromName string
	smtpHost string
	smtpPort string
	smtpUser string
	smtpPass string
}

func New(users user.Repository, fromEmail, fromName, smtpHost, smtpPort, smtpUser, smtpPass, redisAddr string) *Service {
	return &Service{
		redis: redis.NewClient(&redis.Options{
			Addr: redisAddr,
		}),
		users:    users,
		from:     fromEmail,
		fromName: fromName,
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		smtpUser: smtpUser,
		smtpPass: smtpPass,
	}
}

// Enqueue pushes a notification onto the delivery queue. Delivery is
// asynchronous; a failed push is the only error surfaced to the caller.
func (s *Service) Enqueue(ctx context.Context, n Notification) error {
	n.ID = uuid.NewString()
	n.Tries = 0
	n.Created = time.Now()

	data, err := json.Marshal(n)
	if err != nil {
		logger.Errorf("Failed to marshal notification: %v", err)
		return err
	}

	if err := s.redis.LPush(ctx, queueKey, string(data)).Err(); err != nil {
		logger.Errorf("Failed to queue notification %s for user %d: %v", n.Alias, n.UserID, err)
		return err
	}

	metrics.RecordNotificationQueued(n.Alias)
	logger.Infof("Notification queued: %s for user %d", n.Alias, n.UserID)
	return nil
}

func (s *Service) Start(ctx context.Context) {
	logger.Info("Notification worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Notification worker stopped")
			return
		default:
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if err != nil {
		return
	}

	var n Notification
	if err := json.Unmarshal([]byte(result[1]), &n); err != nil {
		logger.Errorf("Bad notification data: %v", err)
		return
	}

	n.Tries++
	if err := s.deliver(ctx, n); err != nil {
		logger.WithFields(map[string]interface{}{
			"alias":   n.Alias,
			"user_id": n.UserID,
			"tries":   n.Tries,
			"error":   err.Error(),
		}).Error("Failed to deliver notification")

		if n.Tries < maxTries {
			data, _ := json.Marshal(n)
			s.redis.LPush(context.Background(), queueKey, data)
		} else {
			logger.Errorf("Notification %s to user %d failed after %d attempts", n.Alias, n.UserID, maxTries)
			s.saveFailed(n, err)
		}
		return
	}

	logger.Infof("Notification delivered: %s to user %d", n.Alias, n.UserID)
}

func (s *Service) deliver(ctx context.Context, n Notification) error {
	recipient, err := s.users.FindByID(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	message := fmt.Sprintf("From: %s <%s>\r\n", s.fromName, s.from)
	message += fmt.Sprintf("To: %s\r\n", recipient.Email)
	message += fmt.Sprintf("Subject: %s\r\n", n.Title)
	message += fmt.Sprintf("X-Notification-Group: %s\r\n", n.Group)
	message += "\r\n" + n.Message

	var auth smtp.Auth
	if s.smtpUser != "" && s.smtpPass != "" {
		auth = smtp.PlainAuth("", s.smtpUser, s.smtpPass, s.smtpHost)
	}

	addr := s.smtpHost + ":" + s.smtpPort
	return smtp.SendMail(addr, auth, s.from, []string{recipient.Email}, []byte(message))
}

func (s *Service) saveFailed(n Notification, err error) {
	failed := map[string]interface{}{
		"notification": n,
		"error":        err.Error(),
		"time":         time.Now(),
	}
	data, _ := json.Marshal(failed)
	s.redis.LPush(context.Background(), queueKey+":failed", data)
	logger.Errorf("Notification moved to failed queue: %s", n.ID)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, queueKey).Result()
	metrics.NotificationQueueLength.Set(float64(length))
	return length
}

func (s *Service) Close() error {
	return s.redis.Close()
}
