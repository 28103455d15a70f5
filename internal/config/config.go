package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストアの種別
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string

	// Store
	StoreDriver   string
	SerialBackend string
	OTPStore      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Session
	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration

	// OTP
	OTPTTL         time.Duration
	OTPMaxAttempts int
	OTPDelivery    string

	// Credential
	BcryptCost int

	// Serial
	SerialMinWidth   int
	SerialMaxRetries int

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth int
	RateLimitOTP  int

	// CORS
	CORSAllowedOrigin string
}

// Load はカレントディレクトリの .env と環境変数からConfigを読み込む。
// 同じキーが両方にある場合は環境変数を優先する。
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile は指定した .env ファイルと環境変数からConfigを読み込む。
// ファイルが存在しない場合は環境変数のみを使う。
// 必須環境変数が未設定の場合はエラーを返す。
func LoadFile(path string) (*Config, error) {
	file, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	env := envSource{file: file}

	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(env.getString("STORE_DRIVER", DriverPostgres))
	cfg.SerialBackend = strings.ToLower(env.getString("SERIAL_BACKEND", cfg.StoreDriver))
	cfg.OTPStore = strings.ToLower(env.getString("OTP_STORE", DriverRedis))

	if err := checkDriver("STORE_DRIVER", cfg.StoreDriver, DriverPostgres, DriverMemory); err != nil {
		return nil, err
	}
	if err := checkDriver("SERIAL_BACKEND", cfg.SerialBackend, DriverPostgres, DriverRedis, DriverMemory); err != nil {
		return nil, err
	}
	if err := checkDriver("OTP_STORE", cfg.OTPStore, DriverRedis, DriverMemory); err != nil {
		return nil, err
	}
	// プロセス内カウンターは再起動で1に戻るため、永続ストアとは組み合わせない
	if cfg.SerialBackend == DriverMemory && cfg.StoreDriver != DriverMemory {
		return nil, fmt.Errorf("SERIAL_BACKEND=memory requires STORE_DRIVER=memory, got STORE_DRIVER=%q", cfg.StoreDriver)
	}

	// Required fields
	var missing []string

	cfg.JWTSecret = env.get("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.DatabaseURL = env.get("DATABASE_URL")
	if cfg.DatabaseURL == "" && (cfg.StoreDriver == DriverPostgres || cfg.SerialBackend == DriverPostgres) {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = env.getString("SERVER_PORT", "8080")
	cfg.RedisAddr = env.getString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = env.getString("REDIS_PASSWORD", "")
	cfg.RedisDB = env.getInt("REDIS_DB", 0)
	cfg.JWTIssuer = env.getString("JWT_ISSUER", "accountd")
	cfg.SessionTTL = env.getDuration("SESSION_TTL", 7*24*time.Hour)
	cfg.OTPTTL = env.getDuration("OTP_TTL", 5*time.Minute)
	cfg.OTPMaxAttempts = env.getInt("OTP_MAX_ATTEMPTS", 3)
	cfg.OTPDelivery = env.getString("OTP_DELIVERY", "log")
	cfg.BcryptCost = env.getInt("BCRYPT_COST", 10)
	cfg.SerialMinWidth = env.getInt("SERIAL_MIN_WIDTH", 4)
	cfg.SerialMaxRetries = env.getInt("SERIAL_MAX_RETRIES", 5)
	cfg.RateLimitAuth = env.getInt("RATE_LIMIT_AUTH", 30)
	cfg.RateLimitOTP = env.getInt("RATE_LIMIT_OTP", 5)
	cfg.CORSAllowedOrigin = env.getString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func checkDriver(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", key, allowed, value)
}

// envSource は環境変数を優先し、無ければ .env の値を返す。
type envSource struct {
	file map[string]string
}

func (e envSource) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return e.file[key]
}

func (e envSource) getString(key, defaultVal string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return defaultVal
}

// getInt は整数を読み込む。不正な値と負の値はデフォルト値にする。
// デフォルト値が正の項目では0もデフォルト値にする。
func (e envSource) getInt(key string, defaultVal int) int {
	v := e.get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || (i <= 0 && defaultVal > 0) || i < 0 {
		return defaultVal
	}
	return i
}

func (e envSource) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := e.get(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
