// Command latchflowd runs the Latchflow server: the admin API, the
// recipient portal, the auth flows, the trigger runner, the action
// consumer, and the bundle rebuild scheduler, all behind one HTTP mux.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	redis "github.com/redis/go-redis/v9"

	"github.com/latchflow/core/pkg/action"
	"github.com/latchflow/core/pkg/admin"
	"github.com/latchflow/core/pkg/assignment"
	"github.com/latchflow/core/pkg/authflow"
	"github.com/latchflow/core/pkg/authz"
	"github.com/latchflow/core/pkg/bundle"
	"github.com/latchflow/core/pkg/changelog"
	"github.com/latchflow/core/pkg/config"
	"github.com/latchflow/core/pkg/httpapi"
	"github.com/latchflow/core/pkg/kms"
	"github.com/latchflow/core/pkg/litestore"
	"github.com/latchflow/core/pkg/observability"
	"github.com/latchflow/core/pkg/pgstore"
	"github.com/latchflow/core/pkg/plugins"
	"github.com/latchflow/core/pkg/portal"
	"github.com/latchflow/core/pkg/queue"
	"github.com/latchflow/core/pkg/scheduler"
	"github.com/latchflow/core/pkg/storage"
	"github.com/latchflow/core/pkg/trigger"
)

// persistence bundles every store boundary cmd/latchflowd wires, backed
// either by pkg/pgstore (DATABASE_URL=postgres://.) or pkg/litestore
// (DATABASE_URL=sqlite:<path>, DATABASE_URL requirement is still
// satisfied — a sqlite DSN is still a persistence DSN, it just names a
// zero-dependency local/dev driver instead of a networked one).
type persistence struct {
	changelog       changelog.Store
	bundle          bundle.Store
	fileToBundles   func(ctx context.Context, fileIDs []string) ([]string, error)
	admin           admin.Store
	portal          portal.Store
	assignment      assignment.Record
	trigger         trigger.Store
	action          action.Store
	authflow        authflow.Store
	recipientLookup authflow.RecipientLookup
	adminProfile    authflow.AdminProfile
	userIDByEmail   func(email string) (string, error)
	close           func() error
	// rawDB is non-nil only for the Postgres backend; buildQueue's
	// QUEUE_DRIVER=postgres branch needs it, and that driver is meaningless
	// under litestore's single-process lite mode.
	rawDB *sql.DB
}

func openPersistence(cfg *config.Config) (*persistence, error) {
	if rest, ok := strings.CutPrefix(cfg.DatabaseURL, "sqlite:"); ok {
		db, err := litestore.Open(rest)
		if err != nil {
			return nil, fmt.Errorf("open litestore: %w", err)
		}
		adminProfiles := litestore.NewAdminProfileStore(db)
		return &persistence{
			changelog:       litestore.NewChangelogStore(db),
			bundle:          litestore.NewBundleStore(db),
			fileToBundles:   litestore.NewBundleStore(db).FileToBundles,
			admin:           litestore.NewAdminStore(db),
			portal:          litestore.NewPortalStore(db),
			assignment:      litestore.NewAssignmentStore(db),
			trigger:         litestore.NewTriggerStore(db),
			action:          litestore.NewActionStore(db),
			authflow:        litestore.NewAuthflowStore(db),
			recipientLookup: litestore.NewRecipientTagsStore(db),
			adminProfile:    adminProfiles,
			userIDByEmail:   adminProfiles.UserIDByEmail,
			close:           db.Close,
		}, nil
	}

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := sqlDB.PingContext(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	pg := pgstore.New(sqlDB)
	adminProfiles := pgstore.NewAdminProfileStore(pg)
	return &persistence{
		changelog:       pgstore.NewChangelogStore(pg),
		bundle:          pgstore.NewBundleStore(pg),
		fileToBundles:   pgstore.NewBundleStore(pg).FileToBundles,
		admin:           pgstore.NewAdminStore(pg),
		portal:          pgstore.NewPortalStore(pg),
		assignment:      pgstore.NewAssignmentStore(pg),
		trigger:         pgstore.NewTriggerStore(pg),
		action:          pgstore.NewActionStore(pg),
		authflow:        pgstore.NewAuthflowStore(pg),
		recipientLookup: pgstore.NewRecipientTagsStore(pg),
		adminProfile:    adminProfiles,
		userIDByEmail:   adminProfiles.UserIDByEmail,
		close:           sqlDB.Close,
		rawDB:           sqlDB,
	}, nil
}

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, factored out of main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	sub := "server"
	if len(args) > 1 {
		sub = args[1]
	}

	switch sub {
	case "server", "serve":
		return runServer(stdout, stderr)
	case "health":
		return runHealthCheck(stdout, stderr)
	default:
		fmt.Fprintf(stderr, "latchflowd: unknown subcommand %q (want server|health)\n", sub)
		return 2
	}
}

func runServer(stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "latchflowd: %v\n", err)
		return 1
	}
	if override, err := config.LoadDevOverride("."); err != nil {
		fmt.Fprintf(stderr, "latchflowd: %v\n", err)
		return 1
	} else {
		config.ApplyDevOverride(cfg, override)
	}

	obs, err := observability.New(ctx, observability.DefaultConfig())
	if err != nil {
		fmt.Fprintf(stderr, "latchflowd: observability: %v\n", err)
		return 1
	}
	defer obs.Shutdown(ctx)

	store, err := openPersistence(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "latchflowd: %v\n", err)
		return 1
	}
	defer store.close()

	storageDriver, err := buildStorageDriver(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "latchflowd: storage driver: %v\n", err)
		return 1
	}
	var linkSigner *storage.LinkSigner
	if cfg.EncryptionMasterKeyB64 != "" {
		linkSigner, err = storage.NewLinkSigner([]byte(cfg.EncryptionMasterKeyB64))
		if err != nil {
			fmt.Fprintf(stderr, "latchflowd: link signer: %v\n", err)
			return 1
		}
	}
	storageSvc := storage.NewService(storageDriver, linkSigner)

	q, err := buildQueue(store.rawDB, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "latchflowd: queue driver: %v\n", err)
		return 1
	}
	defer q.Stop(ctx)

	changelogLog := changelog.NewLog(store.changelog, adminChangelogSerializer(store.admin), changelog.Config{
		SnapshotInterval: cfg.HistorySnapshotInterval,
		MaxChainDepth:    cfg.HistoryMaxChainDepth,
	}, time.Now)

	engine := authz.NewEngine(logger, obs.Meter())

	bundleBuilder := bundle.NewBuilder(store.bundle, storageSvc)
	sched := scheduler.New(bundle.SchedulerAdapter{Builder: bundleBuilder}, scheduler.DefaultDebounce, logger)
	sched.FileToBundles = store.fileToBundles
	defer sched.Shutdown()

	adminHandlers := admin.NewHandlers(store.admin, changelogLog, engine, sched)

	enforcer := assignment.NewEnforcer(store.assignment, time.Now)
	portalHandlers := portal.NewHandlers(store.portal, storageSvc, enforcer)

	registry := plugins.NewRegistry()
	loader := plugins.NewDefaultLoader(plugins.DefaultLoaderConfig{
		WASMMemoryLimitBytes: 64 * 1024 * 1024,
		WASMTimeout:          30 * time.Second,
	})
	if cfg.PluginsPath != "" {
		watcher := plugins.NewWatcher(cfg.PluginsPath, registry, loader, plugins.DefaultReloadDebounce, plugins.DefaultPollInterval, logger)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	triggerRunner := trigger.New(store.trigger, q)
	_ = triggerRunner // constructed here, but nothing else in this binary references it; plug-in trigger runtimes are not wired to it.

	actionMetrics := &action.Metrics{}
	if meter := obs.Meter(); meter != nil {
		actionMetrics.Invocations, _ = meter.Int64Counter("latchflow_action_invocations_total")
		actionMetrics.Duration, _ = meter.Float64Histogram("latchflow_action_duration_ms")
	}
	consumer := action.New(store.action, registry, actionMetrics, logger)
	if cfg.EncryptionMode == "aes-gcm" {
		keystore, err := kms.NewLocalKMS("./data/keystore.json")
		if err != nil {
			fmt.Fprintf(stderr, "latchflowd: keystore: %v\n", err)
			return 1
		}
		consumer.Decrypter = keystore
	}
	requeue := func(ctx context.Context, msg queue.Message, delay time.Duration) error {
		time.AfterFunc(delay, func() { _ = q.EnqueueAction(context.Background(), msg) })
		return nil
	}
	go func() {
		if err := q.ConsumeActions(ctx, consumer.Handler(requeue)); err != nil && ctx.Err() == nil {
			logger.Error("action consumer stopped", "error", err)
		}
	}()

	notifier := authflow.NewLogNotifier(logger)
	sessions := authflow.NewSessionManager(store.authflow, store.recipientLookup, notifier)
	sessions.AdminSessionTTL = time.Duration(cfg.AuthSessionTTLHours) * time.Hour
	sessions.RecipientSessionTTL = time.Duration(cfg.RecipientSessionTTLHours) * time.Hour
	sessions.MagicLinkTTL = time.Duration(cfg.AdminMagicLinkTTLMin) * time.Minute
	sessions.OTPTTL = time.Duration(cfg.RecipientOTPTTLMin) * time.Minute
	sessions.OTPLength = cfg.RecipientOTPLength
	sessions.DeviceCodeTTL = time.Duration(cfg.DeviceCodeTTLMin) * time.Minute
	sessions.DeviceCodeInterval = time.Duration(cfg.DeviceCodeIntervalS) * time.Second
	sessions.APITokenPrefix = cfg.APITokenPrefix
	sessions.DefaultTokenScopes = cfg.APITokenScopesDefault
	if cfg.APITokenTTLDays > 0 {
		ttl := time.Duration(cfg.APITokenTTLDays) * 24 * time.Hour
		sessions.APITokenTTL = &ttl
	}

	authflowHandlers := authflow.NewHandlers(sessions, store.userIDByEmail)
	authflowHandlers.AdminCookieName = "lf_admin_sess"
	authflowHandlers.RecipientCookieName = "lf_recipient_sess"
	authflowHandlers.CookieDomain = cfg.AuthCookieDomain
	authflowHandlers.CookieSecure = cfg.AuthCookieSecure
	authflowHandlers.RedirectOrigin = cfg.AdminUIOrigin
	authflowHandlers.CallbackBaseURL = "http://localhost:" + cfg.Port + "/auth/admin/callback"

	resolver := authflow.NewResolver(sessions, store.adminProfile)
	limiter := httpapi.NewAuthRateLimiter(10)

	mux := http.NewServeMux()

	requireAdmin := httpapi.RequireAdminOrAPIToken(resolver, authflowHandlers.AdminCookieName, nil)
	requireRecipient := httpapi.RequireRecipient(resolver, authflowHandlers.RecipientCookieName)
	mode := cfg.EvaluationMode()
	perm := func(signature string) func(http.Handler) http.Handler {
		return httpapi.RequirePermission(engine, authz.PolicyFor(signature), authz.EvaluationMode(mode), nil)
	}

	adminHandlers.RegisterRoutes(mux, requireAdmin, perm)
	portalHandlers.RegisterRoutes(mux, requireRecipient)
	authflowHandlers.RegisterRoutes(mux, limiter, requireAdmin)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"queue":   cfg.QueueDriver,
			"storage": cfg.StorageDriver,
		})
	})
	if h := obs.MetricsHandler(); h != nil {
		mux.Handle("GET /metrics", h)
	}

	var handler http.Handler = mux
	handler = httpapi.WithRequestID(handler)
	handler = obs.HTTPMiddleware(handler)
	if cfg.AdminUIOrigin != "" {
		handler = httpapi.CORS([]string{cfg.AdminUIOrigin})(handler)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("latchflowd listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(stderr, "latchflowd: serve: %v\n", err)
		return 1
	}
	return 0
}

func runHealthCheck(stdout, stderr io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}
	resp, err := http.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		fmt.Fprintf(stderr, "latchflowd: health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "latchflowd: health check returned %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func buildStorageDriver(ctx context.Context, cfg *config.Config) (storage.Driver, error) {
	switch cfg.StorageDriver {
	case "", "local":
		dir := cfg.StoragePrefix
		if dir == "" {
			dir = "./data/objects"
		}
		return storage.NewLocalDriver(dir)
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return storage.NewS3Driver(client, cfg.StorageBucket), nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("new gcs client: %w", err)
		}
		return storage.NewGCSDriver(client, cfg.StorageBucket), nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

func buildQueue(db *sql.DB, cfg *config.Config) (queue.Queue, error) {
	switch cfg.QueueDriver {
	case "", "memory":
		return queue.NewInMemoryQueue(), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("QUEUE_DRIVER=postgres requires a Postgres DATABASE_URL, not sqlite: lite mode")
		}
		return queue.NewPostgresQueue(db, time.Second), nil
	case "redis":
		var opts redis.Options
		if cfg.QueueConfigJSON != "" {
			if err := json.Unmarshal([]byte(cfg.QueueConfigJSON), &opts); err != nil {
				return nil, fmt.Errorf("parse QUEUE_CONFIG_JSON: %w", err)
			}
		}
		client := redis.NewClient(&opts)
		return queue.NewRedisQueue(client, "latchflow:actions"), nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_DRIVER %q", cfg.QueueDriver)
	}
}

// adminChangelogSerializer builds a changelog.Serializer that materializes
// current bundle/recipient state from the admin store, the two entity
// types admin.Handlers appends changelog entries for.
func adminChangelogSerializer(store admin.Store) changelog.Serializer {
	return func(entityType, entityID string) (json.RawMessage, error) {
		ctx := context.Background()
		switch entityType {
		case "bundle":
			b, err := store.GetBundle(ctx, entityID)
			if err != nil {
				return nil, err
			}
			if b == nil {
				return nil, fmt.Errorf("changelog: bundle %s not found", entityID)
			}
			return json.Marshal(b)
		case "recipient":
			recipients, err := store.ListRecipients(ctx)
			if err != nil {
				return nil, err
			}
			for _, r := range recipients {
				if r.ID == entityID {
					return json.Marshal(r)
				}
			}
			return nil, fmt.Errorf("changelog: recipient %s not found", entityID)
		default:
			return nil, fmt.Errorf("changelog: unknown entity type %q", entityType)
		}
	}
}
