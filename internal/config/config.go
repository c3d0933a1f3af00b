// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken = "TELEGRAM_TOKEN"
	KeyAppEnv        = "APP_ENV"
	KeyLogLevel      = "LOG_LEVEL"
	KeyHTTPPort      = "HTTP_PORT"
	KeyPrefsBackend  = "PREFS_BACKEND"
	KeyPrefsFile     = "PREFS_FILE"
	KeyProductsFile  = "PRODUCTS_FILE"
	KeyMongoURI      = "MONGO_URI"
	KeyMongoDB       = "MONGO_DB"
	KeyGeoCityDB     = "GEOIP_CITY_DB"
	KeyGeoASNDB      = "GEOIP_ASN_DB"
	KeyVendorBaseURL = "DROVA_BASE_URL"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Preference store backends.
	BackendFile  = "file"
	BackendMongo = "mongo"

	// Defaults for optional settings.
	DefaultAppEnv       = EnvProduction
	DefaultLogLevel     = "info"
	DefaultHTTPPort     = 8080
	DefaultPrefsBackend = BackendFile
	DefaultPrefsFile    = "persistentData.json"
	DefaultProductsFile = "products.json"
	DefaultGeoCityDB    = "GeoLite2-City.mmdb"
	DefaultGeoASNDB     = "GeoLite2-ASN.mmdb"
	DefaultVendorBase   = "https://services.drova.io"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyPrefsBackend,
		Example:     BackendFile + " / " + BackendMongo,
		Default:     DefaultPrefsBackend,
		Description: "Preference store backend.",
		Notes:       KeyMongoURI + " and " + KeyMongoDB + " become required when set to " + BackendMongo + ".",
	},
	{
		Key:         KeyPrefsFile,
		Example:     DefaultPrefsFile,
		Default:     DefaultPrefsFile,
		Description: "Path of the JSON preference document (file backend only).",
	},
	{
		Key:         KeyProductsFile,
		Example:     DefaultProductsFile,
		Default:     DefaultProductsFile,
		Description: "Path of the cached product-id to title JSON map.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string (mongo backend only).",
	},
	{
		Key:         KeyMongoDB,
		Example:     "station_bot",
		Description: "MongoDB database name (mongo backend only).",
	},
	{
		Key:         KeyGeoCityDB,
		Example:     DefaultGeoCityDB,
		Default:     DefaultGeoCityDB,
		Description: "Path of the GeoLite2 City database.",
		Notes:       "Lookups degrade to default values when the database is absent.",
	},
	{
		Key:         KeyGeoASNDB,
		Example:     DefaultGeoASNDB,
		Default:     DefaultGeoASNDB,
		Description: "Path of the GeoLite2 ASN database.",
	},
	{
		Key:         KeyVendorBaseURL,
		Example:     DefaultVendorBase,
		Default:     DefaultVendorBase,
		Description: "Base URL of the vendor REST API.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken string
	AppEnv        string
	LogLevel      string
	HTTPPort      int
	PrefsBackend  string
	PrefsFile     string
	ProductsFile  string
	MongoURI      string
	MongoDB       string
	GeoCityDB     string
	GeoASNDB      string
	VendorBaseURL string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:        firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken: strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		LogLevel:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:      DefaultHTTPPort,
		PrefsBackend:  firstNonEmpty(normalizeEnv(os.Getenv(KeyPrefsBackend)), DefaultPrefsBackend),
		PrefsFile:     firstNonEmpty(strings.TrimSpace(os.Getenv(KeyPrefsFile)), DefaultPrefsFile),
		ProductsFile:  firstNonEmpty(strings.TrimSpace(os.Getenv(KeyProductsFile)), DefaultProductsFile),
		MongoURI:      strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:       strings.TrimSpace(os.Getenv(KeyMongoDB)),
		GeoCityDB:     firstNonEmpty(strings.TrimSpace(os.Getenv(KeyGeoCityDB)), DefaultGeoCityDB),
		GeoASNDB:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyGeoASNDB)), DefaultGeoASNDB),
		VendorBaseURL: firstNonEmpty(strings.TrimSpace(os.Getenv(KeyVendorBaseURL)), DefaultVendorBase),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	if cfg.PrefsBackend != BackendFile && cfg.PrefsBackend != BackendMongo {
		return Config{}, fmt.Errorf("invalid %s: must be %q or %q", KeyPrefsBackend, BackendFile, BackendMongo)
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	if cfg.PrefsBackend == BackendMongo {
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			missing = append(missing, KeyMongoDB)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.MongoURI != "" && !strings.HasPrefix(cfg.MongoURI, "mongodb://") && !strings.HasPrefix(cfg.MongoURI, "mongodb+srv://") {
		return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if _, parseErr := url.ParseRequestURI(cfg.VendorBaseURL); parseErr != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyVendorBaseURL, parseErr)
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the resolved configuration with secrets masked,
// suitable for startup diagnostics.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + maskSecret(cfg.TelegramToken),
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"prefs_backend: " + cfg.PrefsBackend,
		"prefs_file: " + cfg.PrefsFile,
		"products_file: " + cfg.ProductsFile,
		"geoip_city_db: " + cfg.GeoCityDB,
		"geoip_asn_db: " + cfg.GeoASNDB,
		"vendor_base_url: " + cfg.VendorBaseURL,
	}

	if cfg.MongoURI != "" {
		lines = append(lines, "mongo_uri: "+redactMongoURI(cfg.MongoURI), "mongo_db: "+cfg.MongoDB)
	}

	return strings.Join(lines, "\n")
}

func maskSecret(value string) string {
	if len(value) <= 4 {
		return "...redacted"
	}
	return value[:4] + "...redacted"
}

func redactMongoURI(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return uri
	}
	rest := uri[schemeEnd+3:]
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	return uri[:schemeEnd+3] + rest
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
