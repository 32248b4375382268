package storefront

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rcourtman/storefront/internal/storefront/payments"
	"github.com/rcourtman/storefront/internal/storefront/provisioning"
	"github.com/rcourtman/storefront/internal/storefront/receipts"
)

// Config holds all configuration for the storefront service.
type Config struct {
	DataDir        string
	BindAddress    string
	Port           int
	AdminKey       string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	PublicMetrics  bool
	Currency       string
	SiteName       string
	PublicBaseURL  string // used to build unsubscribe links

	// TrustedProxyHops is the number of reverse proxies whose
	// X-Forwarded-For entries the rate limiters trust.
	TrustedProxyHops int

	NotifyWorkers   int
	NotifyQueueSize int

	PaystackPublicKey string
	PaystackSecretKey string

	HubtelAPIID           string
	HubtelAPIKey          string
	HubtelMerchantAccount string
	HubtelCallbackURL     string

	StripeAPIKey        string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string

	ResendAPIKey        string
	PostmarkServerToken string
	EmailFrom           string
	ContactInbox        string

	CatalogEndpoint      string
	CatalogToken         string
	ProvisioningEndpoint string
	ProvisioningAPIKey   string

	StorageEndpoint        string
	StorageRegion          string
	StorageBucket          string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
}

// LoadConfig loads configuration from environment variables. A .env file is
// loaded if present but not required.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("SF_PORT", 8080)
	if err != nil {
		return nil, err
	}
	workers, err := envOrDefaultInt("SF_NOTIFY_WORKERS", 2)
	if err != nil {
		return nil, err
	}
	queueSize, err := envOrDefaultInt("SF_NOTIFY_QUEUE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	publicMetrics, err := envOrDefaultBool("SF_PUBLIC_METRICS", false)
	if err != nil {
		return nil, err
	}
	proxyHops, err := envOrDefaultInt("SF_TRUSTED_PROXY_HOPS", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:         envOrDefault("SF_DATA_DIR", "/data"),
		BindAddress:     envOrDefault("SF_BIND_ADDRESS", "0.0.0.0"),
		Port:            port,
		AdminKey:        strings.TrimSpace(os.Getenv("SF_ADMIN_KEY")),
		LogLevel:        envOrDefault("SF_LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("SF_LOG_FORMAT", "auto"),
		AllowedOrigins:  splitList(os.Getenv("SF_ALLOWED_ORIGINS")),
		PublicMetrics:   publicMetrics,
		Currency:        strings.ToUpper(envOrDefault("SF_CURRENCY", "GHS")),
		SiteName:        envOrDefault("SF_SITE_NAME", "Storefront"),
		PublicBaseURL:   strings.TrimRight(strings.TrimSpace(os.Getenv("SF_PUBLIC_BASE_URL")), "/"),
		NotifyWorkers:   workers,
		NotifyQueueSize: queueSize,

		TrustedProxyHops: proxyHops,

		PaystackPublicKey: strings.TrimSpace(os.Getenv("PAYSTACK_PUBLIC_KEY")),
		PaystackSecretKey: strings.TrimSpace(os.Getenv("PAYSTACK_SECRET_KEY")),

		HubtelAPIID:           strings.TrimSpace(os.Getenv("HUBTEL_API_ID")),
		HubtelAPIKey:          strings.TrimSpace(os.Getenv("HUBTEL_API_KEY")),
		HubtelMerchantAccount: strings.TrimSpace(os.Getenv("HUBTEL_MERCHANT_ACCOUNT")),
		HubtelCallbackURL:     strings.TrimSpace(os.Getenv("HUBTEL_CALLBACK_URL")),

		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeSuccessURL:    strings.TrimSpace(os.Getenv("STRIPE_SUCCESS_URL")),
		StripeCancelURL:     strings.TrimSpace(os.Getenv("STRIPE_CANCEL_URL")),

		ResendAPIKey:        strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		PostmarkServerToken: strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("EMAIL_FROM", "noreply@example.com"),
		ContactInbox:        strings.TrimSpace(os.Getenv("CONTACT_INBOX")),

		CatalogEndpoint:      strings.TrimSpace(os.Getenv("CATALOG_ENDPOINT")),
		CatalogToken:         strings.TrimSpace(os.Getenv("CATALOG_TOKEN")),
		ProvisioningEndpoint: strings.TrimSpace(os.Getenv("PROVISIONING_ENDPOINT")),
		ProvisioningAPIKey:   strings.TrimSpace(os.Getenv("PROVISIONING_API_KEY")),

		StorageEndpoint:        strings.TrimSpace(os.Getenv("STORAGE_ENDPOINT")),
		StorageRegion:          strings.TrimSpace(os.Getenv("STORAGE_REGION")),
		StorageBucket:          strings.TrimSpace(os.Getenv("STORAGE_BUCKET")),
		StorageAccessKeyID:     strings.TrimSpace(os.Getenv("STORAGE_ACCESS_KEY_ID")),
		StorageSecretAccessKey: strings.TrimSpace(os.Getenv("STORAGE_SECRET_ACCESS_KEY")),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate storefront config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "SF_ADMIN_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("SF_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.NotifyWorkers < 1 {
		return fmt.Errorf("SF_NOTIFY_WORKERS must be greater than 0, got %d", c.NotifyWorkers)
	}
	if c.NotifyQueueSize < 1 {
		return fmt.Errorf("SF_NOTIFY_QUEUE_SIZE must be greater than 0, got %d", c.NotifyQueueSize)
	}
	if c.TrustedProxyHops < 0 {
		return fmt.Errorf("SF_TRUSTED_PROXY_HOPS must not be negative, got %d", c.TrustedProxyHops)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("SF_CURRENCY must be a 3-letter currency code, got %q", c.Currency)
	}
	return nil
}

// Paystack returns the hosted-checkout provider settings.
func (c *Config) Paystack() payments.PaystackConfig {
	return payments.PaystackConfig{
		PublicKey: c.PaystackPublicKey,
		SecretKey: c.PaystackSecretKey,
		Currency:  c.Currency,
	}
}

// Hubtel returns the merchant-initiated mobile money settings.
func (c *Config) Hubtel() payments.HubtelConfig {
	return payments.HubtelConfig{
		APIID:           c.HubtelAPIID,
		APIKey:          c.HubtelAPIKey,
		MerchantAccount: c.HubtelMerchantAccount,
		CallbackURL:     c.HubtelCallbackURL,
	}
}

// Stripe returns the card checkout settings.
func (c *Config) Stripe() payments.StripeConfig {
	return payments.StripeConfig{
		APIKey:        c.StripeAPIKey,
		WebhookSecret: c.StripeWebhookSecret,
		SuccessURL:    c.StripeSuccessURL,
		CancelURL:     c.StripeCancelURL,
		Currency:      c.Currency,
	}
}

// Provisioning returns the downstream provisioning service settings.
func (c *Config) Provisioning() provisioning.Config {
	return provisioning.Config{Endpoint: c.ProvisioningEndpoint, APIKey: c.ProvisioningAPIKey}
}

// Storage returns the receipt bucket settings.
func (c *Config) Storage() receipts.StorageConfig {
	return receipts.StorageConfig{
		Endpoint:        c.StorageEndpoint,
		Region:          c.StorageRegion,
		Bucket:          c.StorageBucket,
		AccessKeyID:     c.StorageAccessKeyID,
		SecretAccessKey: c.StorageSecretAccessKey,
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
