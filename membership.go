// Package membership maintains the Company → Department → Group hierarchy
// and the role accounts (admin, supervisor, trainee) bound to persons. It is
// the only component allowed to write cross-entity references, so every
// membership and cascade rule lives here.
package membership

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds the configuration for the membership engine
type Config struct {
	Store              Store
	RedisClient        *redis.Client
	Dispatcher         Dispatcher
	Logger             *zap.Logger
	Credentials        CredentialPolicy
	CacheTTL           time.Duration
	CachePrefix        string
	NotifyConcurrency  int
	EnableAuditLogging bool
}

// Engine is the main service struct of the membership framework
type Engine struct {
	store             Store
	redis             *redis.Client
	dispatcher        Dispatcher
	log               *zap.Logger
	creds             CredentialPolicy
	cacheTTL          time.Duration
	cachePrefix       string
	notifyConcurrency int
	auditEnabled      bool
	validate          *validator.Validate
}

// New initializes a new Engine
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = unavailableDispatcher{}
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "membership:"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.NotifyConcurrency <= 0 {
		cfg.NotifyConcurrency = 8
	}
	creds, err := cfg.Credentials.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:             cfg.Store,
		redis:             cfg.RedisClient,
		dispatcher:        cfg.Dispatcher,
		log:               cfg.Logger,
		creds:             creds,
		cacheTTL:          cfg.CacheTTL,
		cachePrefix:       cfg.CachePrefix,
		notifyConcurrency: cfg.NotifyConcurrency,
		auditEnabled:      cfg.EnableAuditLogging,
		validate:          validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Store exposes the underlying store for read-only consumers.
func (e *Engine) Store() Store { return e.store }

// validateStruct runs the validator and reports the first failing field as
// ErrInvalidInput.
func (e *Engine) validateStruct(v any) error {
	if err := e.validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", ErrInvalidInput, f.Field(), f.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
