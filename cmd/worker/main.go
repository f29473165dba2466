// cmd/worker: consumes provider delivery receipts and applies them to
// message records.
package main

import (
	"encoding/json"
	"log"

	"github.com/joho/godotenv"
	"github.com/streadway/amqp"

	"github.com/textpulse/sms-marketing-backend/internal/config"
	"github.com/textpulse/sms-marketing-backend/internal/db"
	"github.com/textpulse/sms-marketing-backend/internal/model"
	"github.com/textpulse/sms-marketing-backend/internal/repository"
)

const (
	receiptQueue      = "sms.delivery_receipts"
	maxReceiptRetries = 3
)

// DeliveryReceipt is the provider's callback payload, bridged onto the
// queue by the webhook endpoint.
type DeliveryReceipt struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db.Init(cfg)
	messageRepo := &repository.MessageRepository{DB: db.DB}

	conn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ:", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("Failed to open a channel:", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		receiptQueue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		log.Fatal("Failed to declare queue:", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Fatal("Failed to register consumer:", err)
	}

	forever := make(chan bool)

	go func() {
		for d := range msgs {
			var receipt DeliveryReceipt
			if err := json.Unmarshal(d.Body, &receipt); err != nil {
				log.Println("Invalid receipt:", err)
				d.Ack(false)
				continue
			}

			if err := applyReceipt(messageRepo, receipt); err != nil {
				log.Println("Failed to apply receipt:", err)
				// Nack-requeue would redeliver with the original headers
				// and the count would never advance; republish with the
				// incremented header instead.
				retries := retryCount(d.Headers)
				if retries < maxReceiptRetries {
					perr := ch.Publish("", q.Name, false, false, amqp.Publishing{
						ContentType: "application/json",
						Body:        d.Body,
						Headers:     amqp.Table{"x-retry-count": retries + 1},
					})
					if perr != nil {
						log.Println("Failed to requeue receipt:", perr)
						d.Nack(false, true)
						continue
					}
				} else {
					log.Printf("⚠️ dropping receipt for %s after %d retries\n", receipt.ExternalID, retries)
				}
			}

			d.Ack(false)
		}
	}()

	log.Println("Worker running, waiting for delivery receipts...")
	<-forever
}

// retryCount reads the x-retry-count header, tolerating the integer
// widths different AMQP clients write.
func retryCount(headers amqp.Table) int32 {
	if headers == nil {
		return 0
	}
	switch v := headers["x-retry-count"].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}

func applyReceipt(repo repository.MessageRepositoryInterface, receipt DeliveryReceipt) error {
	if receipt.ExternalID == "" {
		log.Println("⚠️ receipt without external_id, dropping")
		return nil
	}

	var status model.MessageStatus
	switch receipt.Status {
	case "delivered", "DELIVERED":
		status = model.MessageStatusDelivered
	case "failed", "FAILED", "undelivered":
		status = model.MessageStatusFailed
	default:
		log.Printf("⚠️ unknown receipt status %q for %s, dropping\n", receipt.Status, receipt.ExternalID)
		return nil
	}

	if err := repo.UpdateStatusByExternalID(receipt.ExternalID, status, receipt.Error); err != nil {
		return err
	}
	log.Printf("✅ receipt applied: %s -> %s\n", receipt.ExternalID, status)
	return nil
}
