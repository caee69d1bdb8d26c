package services

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// AmqpService publishes address block/unblock events to an exchange so
// downstream enforcement (edge blockers, ops bots) can react. Publishing is
// best-effort: a dead broker is logged, never surfaced to the request path.
type AmqpService struct {
	appContext.DefaultService

	url      string
	exchange string

	mutex   sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

type BlockEvent struct {
	Address    string    `json:"address"`
	Blocked    bool      `json:"blocked"`
	Violations int       `json:"violations"`
	Timestamp  time.Time `json:"timestamp"`
}

const AMQP_SVC = "amqp_svc"

func (svc AmqpService) Id() string {
	return AMQP_SVC
}

func (svc *AmqpService) Configure(ctx *appContext.Context) error {
	svc.url = os.Getenv("AMQP_URL")

	svc.exchange = os.Getenv("AMQP_BLOCK_EXCHANGE")
	if svc.exchange == "" {
		svc.exchange = "admission.blocks"
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *AmqpService) Start() error {
	if svc.url == "" {
		log.Println("AMQP_URL not set, block events will not be published")
		return nil
	}

	conn, err := amqp.Dial(svc.url)
	if err != nil {
		// Fail-soft: the broker is an optional collaborator
		log.WithError(err).Warn("Failed to connect to AMQP broker, block events disabled")
		return nil
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		log.WithError(err).Warn("Failed to open AMQP channel, block events disabled")
		return nil
	}

	if err := channel.ExchangeDeclare(svc.exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		log.WithError(err).Warn("Failed to declare AMQP exchange, block events disabled")
		return nil
	}

	svc.conn = conn
	svc.channel = channel

	log.WithField("exchange", svc.exchange).Info("AMQP block event publisher started")
	return nil
}

func (svc *AmqpService) Shutdown() {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	if svc.channel != nil {
		_ = svc.channel.Close()
	}
	if svc.conn != nil {
		_ = svc.conn.Close()
	}
}

func (svc *AmqpService) PublishBlockEvent(address string, blocked bool, violations int) {
	svc.mutex.Lock()
	channel := svc.channel
	svc.mutex.Unlock()

	if channel == nil {
		return
	}

	body, err := json.Marshal(BlockEvent{
		Address:    address,
		Blocked:    blocked,
		Violations: violations,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = channel.PublishWithContext(ctx, svc.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.WithError(err).WithField("address", address).Warn("Failed to publish block event")
	}
}
