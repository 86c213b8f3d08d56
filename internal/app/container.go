package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wb-go/wbf/logger"

	"github.com/hien22444/WDP-LM-sub000/internal/api"
	"github.com/hien22444/WDP-LM-sub000/internal/auth"
	"github.com/hien22444/WDP-LM-sub000/internal/booking"
	"github.com/hien22444/WDP-LM-sub000/internal/config"
	"github.com/hien22444/WDP-LM-sub000/internal/escrow"
	"github.com/hien22444/WDP-LM-sub000/internal/notify"
	"github.com/hien22444/WDP-LM-sub000/internal/payment"
	"github.com/hien22444/WDP-LM-sub000/internal/provider"
	"github.com/hien22444/WDP-LM-sub000/internal/reconcile"
	"github.com/hien22444/WDP-LM-sub000/internal/scheduler"
	"github.com/hien22444/WDP-LM-sub000/internal/session"
	"github.com/hien22444/WDP-LM-sub000/internal/slot"
)

const sandboxCheckoutURL = "http://localhost:8080/sandbox/checkout"

// Config holds the dependencies and settings required to start the application.
type Config struct {
	App    *config.Config
	DBPool *pgxpool.Pool
	Logger logger.Logger
}

// Container holds the initialized components that are needed externally.
type Container struct {
	Router     *gin.Engine
	JWTManager *auth.JWTManager
	Scheduler  *scheduler.Scheduler
	Notifier   *notify.Once

	closers []func() error
}

// NewContainer initializes all modules and returns the container.
func NewContainer(cfg Config) (*Container, error) {
	c := &Container{}
	pool, log, settings := cfg.DBPool, cfg.Logger, cfg.App

	// Init Components
	jwtManager := auth.NewJWTManager(settings.JWTSecret, settings.JWTAccessTokenTTL)
	alerter, err := notify.NewTelegramAlerter(settings.TelegramBotToken, settings.TelegramAdminChatID, log)
	if err != nil {
		return nil, fmt.Errorf("init telegram alerter: %w", err)
	}

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(log)
	if settings.RabbitURL != "" {
		amqpDispatcher, err := notify.NewAMQPDispatcher(settings.RabbitURL, settings.NotifyExchange)
		if err != nil {
			return nil, fmt.Errorf("init notifications: %w", err)
		}
		dispatcher = amqpDispatcher
		c.closers = append(c.closers, amqpDispatcher.Close)
	}
	c.Notifier = notify.NewOnce(dispatcher, notify.NewPgxSentStore(pool), log)

	gateway, err := newGateway(settings)
	if err != nil {
		return nil, err
	}

	// Provider Directory
	providers := provider.NewPgxDirectory(pool)
	prices := slot.PriceBounds{Min: settings.MinPrice, Max: settings.MaxPrice}

	// Escrow Module
	ledger := escrow.NewLedger(escrow.NewPgxRepository(pool), settings.PlatformFeePercent, alerter, log)

	// Sessions
	sessions := session.NewRegistry(settings.SessionGrace)

	// Slot Module
	bookingRepo := booking.NewPgxRepository(pool)
	slotService := slot.NewService(slot.NewPgxRepository(pool), providers, bookingRepo, prices, log)

	// Booking Module
	bookingService := booking.NewService(bookingRepo, slotService, providers, ledger, sessions, c.Notifier,
		booking.Policy{Prices: prices, MaxPending: settings.MaxPendingBookings}, log)

	// Payment Module
	orderRepo := payment.NewPgxRepository(pool)
	engine := reconcile.NewEngine(orderRepo, slotService, bookingService, c.Notifier, alerter, log)
	paymentService := payment.NewService(orderRepo, gateway, engine, slotService, bookingService, payment.Config{
		WebhookSecret: settings.WebhookSecret,
		ReturnURL:     settings.PaymentReturnURL,
		OrderTTL:      settings.OrderTTL,
	}, log)

	// Sweeps
	every := settings.SweepInterval
	c.Scheduler = scheduler.New([]scheduler.Task{
		{Name: "booking.progress", Interval: every, Run: bookingService.Progress},
		{Name: "booking.expire_undecided", Interval: every, Run: bookingService.ExpireUndecided},
		{Name: "booking.remind", Interval: every, Run: bookingService.Remind},
		{Name: "escrow.release_completed", Interval: every, Run: bookingService.ReleaseCompleted},
		{Name: "escrow.settle_cancelled", Interval: every, Run: bookingService.SettleCancelled},
		{Name: "payment.expire_stale", Interval: every, Run: paymentService.ExpireStale},
		{Name: "session.purge", Interval: every, Run: func(context.Context) (int, error) {
			return sessions.Purge(time.Now()), nil
		}},
	}, log)

	// Router
	c.Router = api.NewRouter(api.Config{
		IsProduction:   settings.IsProduction(),
		ProdOrigins:    settings.ProdOrigins,
		Logger:         log,
		SlotService:    slotService,
		BookingService: bookingService,
		PaymentService: paymentService,
		JWTManager:     jwtManager,
	})
	c.JWTManager = jwtManager

	return c, nil
}

func newGateway(settings *config.Config) (payment.Gateway, error) {
	if settings.Gateway == "omise" {
		gw, err := payment.NewOmiseGateway(settings.OmisePublicKey, settings.OmiseSecretKey, settings.PaymentCurrency)
		if err != nil {
			return nil, fmt.Errorf("init omise gateway: %w", err)
		}
		return gw, nil
	}
	return payment.NewSandboxGateway(sandboxCheckoutURL), nil
}

// Close waits for in-flight notifications and releases external connections.
func (c *Container) Close() error {
	c.Notifier.Wait()
	var first error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
