package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	DB               SQLiteConfig            `env:",prefix=DB_"`
	API              APIConfig               `env:",prefix=API_"`
	Catalog          CatalogConfig           `env:",prefix=CATALOG_"`
	Tripay           TripayConfig            `env:",prefix=TRIPAY_"`
	Compute          ComputeConfig           `env:",prefix=COMPUTE_"`
	Telegram         TelegramConfig          `env:",prefix=TELEGRAM_"`
	Billing          BillingConfig           `env:",prefix=BILLING_"`
	Provisioning     ProvisioningConfig      `env:",prefix=PROVISIONING_"`
}

type LoggerConfig struct {
	Level string `env:"LEVEL,default=debug"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SQLiteConfig struct {
	Path         string `env:"PATH,default=./data/rackforge.db"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS,default=25"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS,default=5"`
	MaxLifetime  string `env:"MAX_LIFETIME,default=5m"`
}

type APIConfig struct {
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         uint16        `env:"PORT,default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
	JWTSecret    string        `env:"JWT_SECRET,required"`
	InternalKey  string        `env:"INTERNAL_KEY,required"`
}

func (a APIConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type CatalogConfig struct {
	Path string `env:"PATH,default=./configs/catalog.yaml"`
}

type TripayConfig struct {
	BaseURL      string        `env:"BASE_URL,default=https://tripay.co.id/api-sandbox"`
	APIKey       string        `env:"API_KEY,required"`
	PrivateKey   string        `env:"PRIVATE_KEY,required"`
	MerchantCode string        `env:"MERCHANT_CODE,required"`
	Timeout      time.Duration `env:"TIMEOUT,default=30s"`
	RateLimit    struct {
		Burst int     `env:"BURST,default=1"`
		RPS   float64 `env:"RPS,default=10.0"`
	} `env:",prefix=RATE_LIMIT_"`
}

type ComputeConfig struct {
	BaseURL   string        `env:"BASE_URL,required"`
	Token     string        `env:"TOKEN,required"`
	Timeout   time.Duration `env:"TIMEOUT,default=30s"`
	RateLimit struct {
		Burst int     `env:"BURST,default=1"`
		RPS   float64 `env:"RPS,default=10.0"`
	} `env:",prefix=RATE_LIMIT_"`
}

type TelegramConfig struct {
	BotToken     string  `env:"BOT_TOKEN"`
	AdminChatIDs []int64 `env:"ADMIN_CHAT_IDS"`
}

type BillingConfig struct {
	InvoiceTTL     time.Duration `env:"INVOICE_TTL,default=24h"`
	ExpirySchedule string        `env:"EXPIRY_SCHEDULE,default=@every 1m"`
}

type ProvisioningConfig struct {
	Schedule          string        `env:"SCHEDULE,default=@every 5s"`
	BatchSize         int           `env:"BATCH_SIZE,default=10"`
	AttemptTimeout    time.Duration `env:"ATTEMPT_TIMEOUT,default=30s"`
	MaxDuration       time.Duration `env:"MAX_DURATION,default=30m"`
	ReconcileSchedule string        `env:"RECONCILE_SCHEDULE,default=@every 1m"`
	StaleAfter        time.Duration `env:"STALE_AFTER,default=5m"`
}
