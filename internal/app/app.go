// Package app wires configuration into a running gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"donation-gateway/config"
	"donation-gateway/internal/adapter/chain"
	"donation-gateway/internal/adapter/compliance"
	"donation-gateway/internal/adapter/custody"
	httpHandler "donation-gateway/internal/adapter/http/handler"
	"donation-gateway/internal/adapter/http/middleware"
	"donation-gateway/internal/adapter/receipt"
	"donation-gateway/internal/adapter/storage/memory"
	pgStorage "donation-gateway/internal/adapter/storage/postgres"
	redisStorage "donation-gateway/internal/adapter/storage/redis"
	"donation-gateway/internal/core/domain"
	"donation-gateway/internal/core/ports"
	"donation-gateway/internal/pipeline"
	"donation-gateway/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const (
	operatorRole    = "operator"
	shutdownTimeout = 10 * time.Second
	jobBatchSize    = 100
)

// storage groups the repositories behind whichever driver is configured.
type storage struct {
	donations ports.DonationRepository
	wallets   ports.WalletRepository
	events    ports.WebhookEventRepository
	tasks     ports.TaskRepository
	audit     ports.AuditRepository
	health    []ports.HealthChecker
}

// cache groups the short-lived key/value concerns.
type cache struct {
	locker  ports.Locker
	nonces  ports.NonceStore
	limiter ports.RateLimiter
	qr      ports.QRCache
}

// App holds the assembled gateway.
type App struct {
	cfg        *config.Config
	log        zerolog.Logger
	Router     *gin.Engine
	Dispatcher *pipeline.Dispatcher
	Scheduler  *pipeline.Scheduler
	Invoices   *service.InvoiceServiceImpl
	Ingestor   *service.WebhookIngestorImpl
	closers    []func()
}

// New builds every component. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (a *App, err error) {
	a = &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	st, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	kv, err := a.openCache(ctx, st)
	if err != nil {
		return nil, err
	}

	chains := ChainPolicies(cfg.Chains)
	invoiceOpts, err := invoiceOptions(cfg.Invoice)
	if err != nil {
		return nil, err
	}

	pool := service.NewWalletPool(st.wallets, log)
	if err := pool.Seed(ctx, cfg.Wallets); err != nil {
		return nil, fmt.Errorf("seeding wallet pool: %w", err)
	}
	orchestrator := service.NewOrchestrator(st.donations, st.tasks, pool, chains, cfg.Pipeline.MintEnabled, log)
	a.Invoices = service.NewInvoiceService(st.donations, pool, orchestrator, kv.locker, kv.qr, chains, invoiceOpts, log)

	sigSvc := service.NewHMACSignatureService()
	a.Ingestor = service.NewWebhookIngestor(st.events, st.donations, orchestrator, sigSvc, kv.locker,
		WebhookProviders(cfg.Webhooks.Providers), chains, log)

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	admin := service.NewAdminService(
		service.OperatorAccount{Username: cfg.Admin.Username, PasswordHash: cfg.Admin.PasswordHash},
		service.NewArgon2HashService(), tokenSvc, st.tasks, orchestrator, pool, chains, log,
	)

	a.Router = httpHandler.SetupRouter(httpHandler.RouterDeps{
		Invoices:   a.Invoices,
		Webhooks:   a.Ingestor,
		Admin:      admin,
		SigSvc:     sigSvc,
		NonceStore: kv.nonces,
		TokenSvc:   tokenSvc,
		ClientAuth: middleware.ClientAuthConfig{
			APIKeys:      cfg.Auth.APIKeys,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
		},
		OperatorRole:   operatorRole,
		RateLimiter:    kv.limiter,
		HealthCheckers: st.health,
		AuditSvc:       service.NewAuditService(st.audit, log),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Mode:           cfg.Server.Mode,
		Version:        Version,
		Logger:         log,
	})

	stages, err := a.buildStages(ctx, orchestrator)
	if err != nil {
		return nil, err
	}
	p := cfg.Pipeline
	a.Dispatcher, err = pipeline.NewDispatcher(st.tasks, st.donations, orchestrator, stages, pipeline.DispatcherConfig{
		WorkerID:      workerID(p.WorkerID),
		Workers:       p.Workers,
		BatchSize:     p.BatchSize,
		PollInterval:  p.PollInterval,
		StageTimeout:  p.StageTimeout,
		LeaseDuration: p.LeaseDuration,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: p.MaxAttempts,
			Base:        p.BackoffBase,
			Factor:      p.BackoffFactor,
			Max:         p.BackoffMax,
			Jitter:      p.BackoffJitter,
		},
	}, log)
	if err != nil {
		return nil, err
	}

	a.Scheduler, err = pipeline.NewScheduler(log,
		pipeline.NewExpiryJob(st.donations, orchestrator, cfg.Invoice.ExpiryWindow, p.ExpiryInterval, jobBatchSize, log),
		pipeline.NewReconcileJob(st.donations, orchestrator, pool, p.ReconcileGrace, p.ReconcileInterval, jobBatchSize, log),
		pipeline.NewWebhookReplayJob(st.events, a.Ingestor, p.ReplayWindow, p.ReplayInterval, jobBatchSize, log),
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context) (*storage, error) {
	switch a.cfg.Database.Driver {
	case "memory":
		a.log.Warn().Msg("using in-memory storage; data is lost on exit")
		s := memory.NewStore()
		return &storage{
			donations: s.Donations(),
			wallets:   s.Wallets(),
			events:    s.Webhooks(),
			tasks:     s.Tasks(),
			audit:     s.Audit(),
			health:    []ports.HealthChecker{s.Health()},
		}, nil
	case "postgres", "":
		pool, err := pgStorage.NewPool(ctx, a.cfg.Database, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		return &storage{
			donations: pgStorage.NewDonationRepo(pool),
			wallets:   pgStorage.NewWalletRepo(pool),
			events:    pgStorage.NewWebhookEventRepo(pool),
			tasks:     pgStorage.NewTaskRepo(pool),
			audit:     pgStorage.NewAuditRepo(pool),
			health:    []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
}

func (a *App) openCache(ctx context.Context, st *storage) (*cache, error) {
	if !a.cfg.Redis.Enabled {
		a.log.Warn().Msg("redis disabled; locks and rate limits are process-local")
		c := memory.NewCache()
		return &cache{locker: c, nonces: c, limiter: c, qr: c}, nil
	}
	client, err := redisStorage.NewClient(ctx, a.cfg.Redis, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	st.health = append(st.health, redisStorage.NewHealthCheck(client))
	return &cache{
		locker:  redisStorage.NewLockStore(client),
		nonces:  redisStorage.NewNonceStore(client),
		limiter: redisStorage.NewRateLimitStore(client),
		qr:      redisStorage.NewQRCache(client),
	}, nil
}

func (a *App) buildStages(ctx context.Context, o ports.SettlementOrchestrator) ([]pipeline.Stage, error) {
	sources, closeSources, err := chain.NewSources(ctx, a.cfg.Chains, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeSources)

	screener, err := compliance.NewRuleScreener(a.cfg.Compliance.DenyList, a.cfg.Compliance.ReviewThresholdUSD, a.log)
	if err != nil {
		return nil, err
	}

	var store ports.ReceiptStore
	switch rc := a.cfg.Receipts; rc.Driver {
	case "s3":
		store, err = receipt.NewS3Store(ctx, rc.Bucket, rc.Region, rc.PublicBaseURL)
		if err != nil {
			return nil, err
		}
	case "memory", "":
		store = receipt.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown receipts driver %q", rc.Driver)
	}

	var minter ports.Minter
	var sweeper ports.Sweeper
	switch cc := a.cfg.Custody; cc.Driver {
	case "http":
		client, err := custody.NewClient(cc.BaseURL, cc.APIKey, cc.Timeout, a.log)
		if err != nil {
			return nil, err
		}
		minter, sweeper = client, client
	case "simulated", "":
		a.log.Warn().Msg("using simulated custody; no funds move")
		sim := custody.NewSimulated()
		minter, sweeper = sim, sim
	default:
		return nil, fmt.Errorf("unknown custody driver %q", cc.Driver)
	}

	mint := a.cfg.Pipeline.MintEnabled
	return []pipeline.Stage{
		pipeline.NewConfirmStage(sources, o),
		pipeline.NewScreenStage(screener, o),
		pipeline.NewReceiptStage(receipt.NewPNGRenderer(a.cfg.Receipts.Organization), store, o, a.cfg.Receipts.Prefix),
		pipeline.NewMintStage(minter, o, mint),
		pipeline.NewSweepStage(sweeper, o, mint),
	}, nil
}

// Serve runs the HTTP API, the dispatcher and the scheduler until ctx is
// cancelled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveHTTP(ctx) })
	g.Go(func() error { return a.Dispatcher.Run(ctx) })
	g.Go(func() error { return a.Scheduler.Run(ctx) })
	return g.Wait()
}

// RunWorker runs the pipeline without the API.
func (a *App) RunWorker(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Dispatcher.Run(ctx) })
	g.Go(func() error { return a.Scheduler.Run(ctx) })
	return g.Wait()
}

func (a *App) serveHTTP(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ChainPolicies converts chain config into domain policies.
func ChainPolicies(chains map[string]config.ChainConfig) map[string]domain.ChainPolicy {
	out := make(map[string]domain.ChainPolicy, len(chains))
	for name, c := range chains {
		name = strings.ToLower(name)
		tokens := make([]string, len(c.Tokens))
		for i, t := range c.Tokens {
			tokens[i] = strings.ToUpper(t)
		}
		required := c.RequiredConfirmations
		if required < 1 {
			required = 1
		}
		out[name] = domain.ChainPolicy{
			Name:                  name,
			Tokens:                tokens,
			RequiredConfirmations: required,
			MemoRequired:          c.MemoRequired,
		}
	}
	return out
}

// WebhookProviders converts provider config for the ingestor.
func WebhookProviders(providers map[string]config.ProviderConfig) map[string]service.WebhookProvider {
	out := make(map[string]service.WebhookProvider, len(providers))
	for name, p := range providers {
		out[strings.ToLower(name)] = service.WebhookProvider{
			Secret:          p.Secret,
			Algorithm:       p.Algorithm,
			SignatureHeader: p.SignatureHeader,
			EventIDHeader:   p.EventIDHeader,
			Format:          p.Format,
		}
	}
	return out
}

func invoiceOptions(c config.InvoiceConfig) (service.InvoiceOptions, error) {
	minUSD, err := decimal.NewFromString(c.MinUSD)
	if err != nil {
		return service.InvoiceOptions{}, fmt.Errorf("invoice.min_usd: %w", err)
	}
	maxUSD, err := decimal.NewFromString(c.MaxUSD)
	if err != nil {
		return service.InvoiceOptions{}, fmt.Errorf("invoice.max_usd: %w", err)
	}
	if minUSD.GreaterThan(maxUSD) {
		return service.InvoiceOptions{}, fmt.Errorf("invoice.min_usd %s exceeds invoice.max_usd %s", minUSD, maxUSD)
	}
	return service.InvoiceOptions{
		MinUSD:     minUSD,
		MaxUSD:     maxUSD,
		LockTTL:    c.LockTTL,
		QRSize:     c.QRSize,
		QRCacheTTL: c.QRCacheTTL,
	}, nil
}

func workerID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
