package routes

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/harvestloop/harvestloop/internal/auth"
	"github.com/harvestloop/harvestloop/internal/config"
	"github.com/harvestloop/harvestloop/internal/identity"
	"github.com/harvestloop/harvestloop/internal/logging"
	"github.com/harvestloop/harvestloop/internal/middleware"
	"github.com/harvestloop/harvestloop/internal/notification"
	"github.com/harvestloop/harvestloop/internal/otp"
	"github.com/harvestloop/harvestloop/internal/payment"
	"github.com/harvestloop/harvestloop/internal/subscription"
	"github.com/harvestloop/harvestloop/web"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Gateway overrides the payment gateway chosen from configuration.
	Gateway payment.Gateway
	// AccessLog enables Fiber's plain text access log.
	AccessLog bool
}

// Services are the domain services built by Setup.
type Services struct {
	Identities    *identity.Service
	Issuer        *auth.Issuer
	OTP           *otp.Service
	Subscriptions *subscription.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.AccessLog {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	svc, err := buildServices(d)
	if err != nil {
		return nil, err
	}

	RegisterHealthRoutes(app, d)

	identityHandler := identity.NewHandler(svc.Identities)
	loginLimiter := middleware.RateLimit(d.Cache, middleware.RateLimitConfig{
		Name:    "login",
		Max:     d.Cfg.LoginRateLimit,
		Message: "Too many login attempts, try again later",
		Key:     middleware.EmailKey,
	}, d.Logger)
	RegisterAuthRoutes(app, auth.NewHandler(svc.Identities, svc.Issuer, d.Logger), identityHandler, loginLimiter)

	otpLimiter := middleware.RateLimit(d.Cache, middleware.RateLimitConfig{
		Name:    "otp",
		Max:     d.Cfg.OTPRateLimit,
		Message: "Too many OTP requests, try again later",
		Key:     otp.DestinationKey,
	}, d.Logger)
	RegisterOTPRoutes(app, otp.NewHandler(svc.OTP, svc.Identities, svc.Issuer, d.Logger), otpLimiter)

	jwt := middleware.JWTAuth(svc.Issuer)
	RegisterProfileRoutes(app, identityHandler, jwt)
	RegisterSubscriptionRoutes(app,
		subscription.NewHandler(svc.Subscriptions),
		[]fiber.Handler{jwt, middleware.RequireRole(identity.RoleConsumer, identity.RoleAdmin)},
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	)

	if err := RegisterStatic(app); err != nil {
		return nil, err
	}
	return svc, nil
}

// RegisterStatic serves the embedded browser scripts and pages.
func RegisterStatic(app *fiber.App) error {
	static, err := fs.Sub(web.Static, "static")
	if err != nil {
		return fmt.Errorf("static assets: %w", err)
	}
	app.Use("/", filesystem.New(filesystem.Config{
		Root:   http.FS(static),
		Index:  "login.html",
		MaxAge: 300,
	}))
	return nil
}

func buildServices(d Deps) (*Services, error) {
	var (
		identityRepo identity.Repository
		subRepo      subscription.Repository
		challenges   otp.ChallengeStore
	)
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
		subRepo = subscription.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
		subRepo = subscription.NewMemoryRepository()
	}
	if d.Cache != nil {
		challenges = otp.NewRedisStore(d.Cache)
	} else {
		challenges = otp.NewMemoryStore()
	}

	cfg := d.Cfg
	var channels otp.Channels
	if cfg.SMS.Enabled() {
		channels.SMS = notification.NewSMSNotifier(notification.TwilioConfig{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.FromNumber,
			BaseURL:    cfg.SMS.BaseURL,
			Timeout:    cfg.ExternalTimeout,
		})
	}
	var mailer notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if cfg.Email.Enabled() {
		email := notification.NewEmailNotifier(notification.SMTPConfig{
			Host:         cfg.Email.Host,
			Port:         cfg.Email.Port,
			Username:     cfg.Email.Username,
			Password:     cfg.Email.Password,
			From:         cfg.Email.From,
			FromName:     cfg.AppName,
			ClientID:     cfg.Email.ClientID,
			ClientSecret: cfg.Email.ClientSecret,
			RefreshToken: cfg.Email.RefreshToken,
			TokenURL:     cfg.Email.TokenURL,
			Timeout:      cfg.ExternalTimeout,
		})
		channels.Email = email
		mailer = email
	}

	gateway := d.Gateway
	if gateway == nil {
		if cfg.Payment.Enabled() {
			gateway = payment.NewRazorpayGateway(payment.RazorpayConfig{
				KeyID:     cfg.Payment.KeyID,
				KeySecret: cfg.Payment.KeySecret,
				BaseURL:   cfg.Payment.BaseURL,
				Currency:  cfg.Payment.Currency,
				Timeout:   cfg.ExternalTimeout,
			})
		} else if cfg.IsDev() {
			gateway = payment.StaticGateway{}
		} else {
			return nil, fmt.Errorf("payment provider is required when APP_ENV=%s", cfg.AppEnv)
		}
	}

	identities := identity.NewService(identityRepo, d.Logger)
	return &Services{
		Identities: identities,
		Issuer:     auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		OTP: otp.NewService(challenges, channels, otp.Config{
			TTL:         cfg.OTPTTL,
			MaxAttempts: cfg.OTPMaxAttempts,
			ExposeCode:  cfg.OTPExposeCode,
		}, d.Logger),
		Subscriptions: subscription.NewService(subRepo, gateway, subscription.Options{
			Notifier: mailer,
			Contacts: identities,
			Currency: cfg.Payment.Currency,
			Logger:   d.Logger,
		}),
	}, nil
}
