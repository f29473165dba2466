package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/textpulse/sms-marketing-backend/internal/auth"
	"github.com/textpulse/sms-marketing-backend/internal/config"
	"github.com/textpulse/sms-marketing-backend/internal/controller"
	"github.com/textpulse/sms-marketing-backend/internal/db"
	"github.com/textpulse/sms-marketing-backend/internal/gateway"
	"github.com/textpulse/sms-marketing-backend/internal/queue"
	"github.com/textpulse/sms-marketing-backend/internal/repository"
	"github.com/textpulse/sms-marketing-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Init DB
	db.Init(cfg)

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	messageRepo := &repository.MessageRepository{DB: db.DB}
	contactRepo := &repository.ContactRepository{DB: db.DB}
	auditRepo := &repository.AuditLogRepository{DB: db.DB}

	var events queue.Publisher
	if cfg.AMQP.URL != "" {
		amqpPublisher, err := queue.NewAMQPPublisher(cfg.AMQP.URL)
		if err != nil {
			log.Fatalf("failed to connect to RabbitMQ: %v", err)
		}
		defer amqpPublisher.Close()
		events = amqpPublisher
	} else {
		log.Println("⚠️ No AMQP_URL configured, lifecycle events stay in-process")
		events = queue.NewInMemoryQueue()
	}

	smsGateway := gateway.FromConfig(cfg.Gateway)
	if _, ok := smsGateway.(*gateway.SimulatedGateway); ok {
		log.Println("⚠️ Using simulated SMS gateway")
	}

	dispatcher := &service.CampaignDispatcher{
		CampaignRepo: campaignRepo,
		MessageRepo:  messageRepo,
		ContactRepo:  contactRepo,
		AuditRepo:    auditRepo,
		Gateway:      smsGateway,
		Events:       events,
	}

	scheduler := service.NewScheduler(campaignRepo, dispatcher, cfg.Scheduler.Interval)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	tokens := auth.NewTokenService(cfg.JWT)
	campaignController := &controller.CampaignController{
		Dispatcher:   dispatcher,
		CampaignRepo: campaignRepo,
		MessageRepo:  messageRepo,
		ContactRepo:  contactRepo,
		Gateway:      smsGateway,
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokens))

		// Campaign routes
		r.Post("/campaigns", campaignController.CreateCampaign)
		r.Get("/campaigns", campaignController.ListCampaigns)
		r.Get("/campaigns/{id}", campaignController.GetCampaign)
		r.Post("/campaigns/{id}/send", campaignController.SendCampaign)
		r.Post("/campaigns/{id}/cancel", campaignController.CancelCampaign)
		r.Patch("/campaigns/{id}/schedule", campaignController.RescheduleCampaign)
		r.Get("/contacts/{id}", campaignController.GetContact)
		r.Get("/gateway/status", campaignController.GatewayStatus)
	})

	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}

	go func() {
		log.Println("🚀 Server running on :" + cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Println("⚠️ server shutdown:", err)
	}
}
