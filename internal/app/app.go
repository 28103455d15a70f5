package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/accountd/internal/account"
	"github.com/hitoshi/accountd/internal/auth"
	"github.com/hitoshi/accountd/internal/config"
	"github.com/hitoshi/accountd/internal/credential"
	"github.com/hitoshi/accountd/internal/database"
	"github.com/hitoshi/accountd/internal/handler"
	"github.com/hitoshi/accountd/internal/logger"
	"github.com/hitoshi/accountd/internal/metrics"
	"github.com/hitoshi/accountd/internal/middleware"
	"github.com/hitoshi/accountd/internal/otp"
	"github.com/hitoshi/accountd/internal/registration"
	"github.com/hitoshi/accountd/internal/repository"
	"github.com/hitoshi/accountd/internal/security"
	"github.com/hitoshi/accountd/internal/serial"
	"github.com/hitoshi/accountd/internal/session"
	"github.com/hitoshi/accountd/internal/social"
	"github.com/hitoshi/accountd/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	// redisKeyPrefix はRedisキーの名前空間。
	redisKeyPrefix = "accountd"
	// otpDeliveryLog はコードをログに出力する開発用の送信方式。
	otpDeliveryLog = "log"
	// ticketSweepInterval はインメモリのOTPチケットを掃除する間隔。
	ticketSweepInterval = 10 * time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("serial_backend", cfg.SerialBackend),
		slog.String("otp_store", cfg.OTPStore),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// stores は設定に応じて選択したストア群と、その後始末を保持する。
type stores struct {
	accounts repository.AccountRepository
	counter  repository.CounterStore
	tickets  repository.TicketStore

	// sweeper はインメモリのチケットストアを使う場合のみ設定する
	sweeper cleanup.Sweeper

	closers []func() error
}

// Close は開いた接続をすべて閉じる。
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Error("failed to close store", slog.String("error", err.Error()))
		}
	}
}

// openStores は STORE_DRIVER / SERIAL_BACKEND / OTP_STORE に従ってストアを開く。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	var db *sql.DB
	if cfg.StoreDriver == config.DriverPostgres || cfg.SerialBackend == config.DriverPostgres {
		var err error
		db, err = database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		st.closers = append(st.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
	}

	var rdb *redis.Client
	if cfg.SerialBackend == config.DriverRedis || cfg.OTPStore == config.DriverRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		st.closers = append(st.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		st.accounts = repository.NewPostgresAccountRepo(db)
	default:
		st.accounts = repository.NewMemoryAccountRepo()
	}

	switch cfg.SerialBackend {
	case config.DriverPostgres:
		st.counter = repository.NewPostgresCounterRepo(db)
	case config.DriverRedis:
		st.counter = repository.NewRedisCounter(rdb, redisKeyPrefix)
	default:
		st.counter = repository.NewMemoryCounter()
	}

	// カウンターを既存アカウントの最大シリアルまで引き上げる
	if err := seedSerialCounter(ctx, st); err != nil {
		st.Close()
		return nil, err
	}

	switch cfg.OTPStore {
	case config.DriverRedis:
		st.tickets = repository.NewRedisTicketStore(rdb, redisKeyPrefix, cleanup.DefaultRetention)
	default:
		mem := repository.NewMemoryTicketStore()
		st.tickets = mem
		st.sweeper = mem
	}

	return st, nil
}

// seedSerialCounter はカウンターとアカウントストアの両方が対応している場合にカウンターを引き上げる。
// RedisのキーがFLUSHで消えた場合や、カウンター行が後から作られた場合でも採番が既存の番号と衝突しない。
func seedSerialCounter(ctx context.Context, st *stores) error {
	seeder, ok := st.counter.(repository.CounterSeeder)
	if !ok {
		return nil
	}
	reader, ok := st.accounts.(repository.SerialSeqReader)
	if !ok {
		return nil
	}
	if _, err := serial.SeedCounter(ctx, seeder, reader, serial.DefaultCounterName); err != nil {
		return fmt.Errorf("failed to seed serial counter: %w", err)
	}
	return nil
}

// newOTPSender は OTP_DELIVERY に対応する送信者を返す。
func newOTPSender(delivery string) (otp.Sender, error) {
	switch delivery {
	case otpDeliveryLog:
		return otp.NewLogSender(slog.Default()), nil
	default:
		return nil, fmt.Errorf("unsupported OTP_DELIVERY: %q", delivery)
	}
}

// server はワイヤリング済みのHTTPハンドラーと、停止時に解放するリソースを保持する。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// buildServer は全依存関係をワイヤリングしてHTTPハンドラーを組み立てる。
func buildServer(cfg *config.Config, st *stores) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. 認証情報とセッション
	hasher := credential.NewHasher(cfg.BcryptCost)
	issuer, err := session.NewIssuer(session.Config{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.SessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session issuer: %w", err)
	}

	// 3. OTP
	sender, err := newOTPSender(cfg.OTPDelivery)
	if err != nil {
		return nil, err
	}
	otpService := otp.NewService(st.tickets, sender, collector, otp.Config{
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
	})

	// 4. ドメインサービス
	allocator := serial.NewAllocator(st.counter, serial.Config{
		MinWidth:   cfg.SerialMinWidth,
		MaxRetries: cfg.SerialMaxRetries,
	}, collector)
	normalizer := registration.NewNormalizer(
		st.accounts,
		allocator,
		hasher,
		social.NewLinker(security.NewURLGuard()),
		otpService,
		issuer,
		security.NewTextSanitizer(),
		collector,
		registration.Config{MaxSerialRetries: cfg.SerialMaxRetries},
	)
	authService := auth.NewService(st.accounts, hasher, issuer, collector)
	accountService := account.NewService(st.accounts, cfg.SerialMinWidth)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitAuth, cfg.RateLimitOTP))

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:       authService,
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
		RateLimiter:         rateLimiter,
		Logger:              slog.Default(),
		StatusRecorder:      collector,
		MetricsGatherer:     reg,
		RegistrationService: normalizer,
		AuthService:         authService,
		AccountService:      accountService,
	})

	return &server{handler: router, rateLimiter: rateLimiter}, nil
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. ストア
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. ワイヤリング
	srv, err := buildServer(cfg, st)
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	// 3. インメモリのOTPチケットの定期削除
	if st.sweeper != nil {
		go cleanup.NewCleanupJob(st.sweeper, slog.Default()).Start(ctx, ticketSweepInterval)
	}

	// 4. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
