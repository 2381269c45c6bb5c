package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/example/marketplace/internal/email"
	"github.com/example/marketplace/internal/infrastructure/kafka"
	"github.com/example/marketplace/internal/notification"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kafkaBrokersStr := getEnv("KAFKA_BROKERS", "localhost:9092")
	kafkaBrokers := strings.Split(kafkaBrokersStr, ",")
	kafkaTopic := getEnv("KAFKA_TOPIC", "marketplace-events")
	smtpHost := getEnv("SMTP_HOST", "localhost")
	smtpPort := getEnv("SMTP_PORT", "1025")
	smtpFrom := getEnv("SMTP_FROM", "noreply@marketplace.example")

	log.Println("[Notifier] ========================================")
	log.Println("[Notifier] Notification worker")
	log.Println("[Notifier] ========================================")
	log.Printf("[Notifier] Kafka: %v", kafkaBrokers)
	log.Printf("[Notifier] SMTP: %s:%s", smtpHost, smtpPort)

	emailSvc := email.NewService(smtpHost, smtpPort, smtpFrom)
	handler := notification.NewHandler(emailSvc)

	consumer := kafka.NewConsumer(kafkaBrokers, kafkaTopic, "notifier")
	defer consumer.Close()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("[Notifier] Shutting down...")
		cancel()
	}()

	log.Println("[Notifier] Consuming events...")
	if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && err != context.Canceled {
		log.Fatalf("[Notifier] Stopped with error: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
