package authcore

import (
	"errors"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/permcache"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Builder assembles an [Engine]. A Builder can be used for exactly one
// successful Build.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users       UserStore
	permissions PermissionSource
	notifier    ResetNotifier
	registry    *permission.Registry

	auditSink      AuditSink
	logger         logging.Logger
	tracerProvider trace.TracerProvider

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, the blacklist, rate limits,
// lockout history and reset tokens. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the durable credential store. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithPermissionSource sets the source of role and overwrite snapshots
// used by [Engine.Authorize]. Without one, scoped checks fail with
// [ErrEngineNotReady].
func (b *Builder) WithPermissionSource(src PermissionSource) *Builder {
	b.permissions = src
	return b
}

// WithResetNotifier sets the out-of-band channel for reset tokens.
func (b *Builder) WithResetNotifier(n ResetNotifier) *Builder {
	b.notifier = n
	return b
}

// WithRegistry overrides the capability catalog. The registry is frozen
// during Build.
func (b *Builder) WithRegistry(r *permission.Registry) *Builder {
	b.registry = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l logging.Logger) *Builder {
	b.logger = l
	return b
}

// WithTracerProvider sets the provider for engine spans. The global
// provider is used otherwise.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := session.CheckClient(b.redis); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := b.registry
	if registry == nil {
		registry = permission.DefaultRegistry()
	}
	registry.Freeze()

	engine := &Engine{
		config:      cloneConfig(cfg),
		users:       b.users,
		permissions: b.permissions,
		notifier:    b.notifier,
		registry:    registry,
		redis:       b.redis,
	}

	// -------- REDIS STATE --------
	engine.sessionStore = session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.IndexTTL)
	engine.blacklist = stores.NewBlacklist(b.redis, cfg.Session.BlacklistPrefix)
	engine.resetStore = stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix)
	engine.rateLimiter = rate.New(b.redis, ratePolicies(cfg.RateLimit))

	// -------- LOCKOUT & SECOND FACTOR --------
	engine.loginGuard = limiters.NewLoginGuard(b.users, b.redis, limiters.LockoutConfig{
		Enabled:    cfg.Lockout.Enabled,
		Threshold:  cfg.Lockout.Threshold,
		Base:       cfg.Lockout.BaseDuration,
		Multiplier: cfg.Lockout.Multiplier,
		Window:     cfg.Lockout.EscalationWindow,
		Max:        cfg.Lockout.MaxDuration,
	})
	engine.mfaBudget = limiters.NewAttemptBudget(b.redis, limiters.BudgetConfig{
		Prefix:      "att:",
		MaxAttempts: cfg.TwoFactor.MaxAttempts,
		Window:      cfg.TwoFactor.Cooldown,
	})
	engine.totp = newTOTPManager(cfg.TwoFactor)

	// -------- PERMISSION CACHE --------
	if cfg.Permission.CacheEnabled {
		cache, err := permcache.New(permcache.Config{
			TTL:     cfg.Permission.CacheTTL,
			MaxCost: cfg.Permission.CacheMaxCost,
		})
		if err != nil {
			return nil, err
		}
		engine.permCache = cache
	}

	// -------- CRYPTO --------
	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		engine.permCache.Close()
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		engine.permCache.Close()
		return nil, err
	}
	engine.jwtManager = jm

	// -------- OBSERVABILITY --------
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, b.auditSink)

	engine.logger = b.logger
	if engine.logger == nil {
		engine.logger = logging.Nop{}
	}
	if b.tracerProvider != nil {
		engine.tracer = b.tracerProvider.Tracer(tracerName)
	} else {
		engine.tracer = otel.Tracer(tracerName)
	}

	b.built = true

	return engine, nil
}

func ratePolicies(cfg RateLimitConfig) map[rate.Action]rate.Policy {
	if !cfg.Enabled {
		return nil
	}
	return map[rate.Action]rate.Policy{
		rate.ActionLogin:    {MaxAttempts: cfg.LoginMaxAttempts, Window: cfg.LoginWindow, PerIP: true},
		rate.ActionRegister: {MaxAttempts: cfg.RegisterMaxAttempts, Window: cfg.RegisterWindow, PerIP: true},
		rate.ActionForgot:   {MaxAttempts: cfg.ForgotMaxAttempts, Window: cfg.ForgotWindow},
		rate.ActionReset:    {MaxAttempts: cfg.ResetMaxAttempts, Window: cfg.ResetWindow},
		rate.ActionRefresh:  {MaxAttempts: cfg.RefreshMaxAttempts, Window: cfg.RefreshWindow},
	}
}
