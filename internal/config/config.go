package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	RunInterval     time.Duration

	// Fire feed.
	FeedURL     string
	FeedTimeout time.Duration

	// Imagery service and its service-account credential.
	ImageryURL              string
	ImageryProject          string
	ImageryTimeout          time.Duration
	ImageryRateLimit        float64
	ImageryMaxResponseBytes int64
	ServiceAccountFile      string
	TokenURL                string
	TokenAudience           string

	// Perimeter estimation.
	SizeThresholdHa    float64
	CloudCover         float64
	DateRangeDays      int
	BBoxMultiplier     float64
	GroundSampleMeters float64
	FetchRGB           bool
	SaveLocalCopies    bool
	OutputDir          string
	UTMSelection       string
	UTMZone            int
	UTMNorth           bool

	// Spatial database.
	DatabaseURLOverride string
	PostgresHost        string
	PostgresPort        string
	PostgresUser        string
	PostgresPassword    string
	PostgresDB          string
	PerimeterTable      string

	// Object store.
	ObjectStoreEnabled bool
	ObjectStoreServer  string
	ObjectStoreUserID  string
	ObjectStoreSecret  string
	ObjectStoreBucket  string
	ObjectStorePrefix  string
	ObjectStoreRegion  string
	ObjectStoreSecure  bool
	PresignExpiry      time.Duration
	PresignCacheSize   int

	// Optional perimeter event stream.
	KafkaBrokers []string
	KafkaTopic   string

	// Optional per-fire run lock.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Load reads configuration from environment variables, applying defaults where unset.
// Checks that only apply to a single command live in ValidateRun and ValidateServe.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	runInterval, err := parseDuration("RUN_INTERVAL", "0s", true)
	if err != nil {
		return nil, err
	}
	feedTimeout, err := parseDuration("FEED_TIMEOUT", "30s", false)
	if err != nil {
		return nil, err
	}
	imageryTimeout, err := parseDuration("IMAGERY_TIMEOUT", "60s", false)
	if err != nil {
		return nil, err
	}
	presignExpiry, err := parseDuration("PRESIGN_EXPIRY", "1h", false)
	if err != nil {
		return nil, err
	}
	lockTTL, err := parseDuration("LOCK_TTL", "15m", false)
	if err != nil {
		return nil, err
	}

	rateLimit, err := parsePositiveFloat("IMAGERY_RATE_LIMIT", "2")
	if err != nil {
		return nil, err
	}
	sizeThreshold, err := parseFloat("SIZE_THRESHOLD_HA", "90")
	if err != nil {
		return nil, err
	}
	cloudCover, err := parseFloat("CLOUD_COVER", "22.2")
	if err != nil {
		return nil, err
	}
	if cloudCover < 0 || cloudCover > 100 {
		return nil, errors.New("CLOUD_COVER must be between 0 and 100")
	}
	multiplier, err := parsePositiveFloat("BBOX_MULTIPLIER", "3")
	if err != nil {
		return nil, err
	}
	gsd, err := parsePositiveFloat("GROUND_SAMPLE_METERS", "20")
	if err != nil {
		return nil, err
	}

	dateRange, err := parsePositiveInt("DATE_RANGE_DAYS", "14")
	if err != nil {
		return nil, err
	}
	utmZone, err := parsePositiveInt("UTM_ZONE", "10")
	if err != nil {
		return nil, err
	}
	if utmZone > 60 {
		return nil, errors.New("UTM_ZONE must be between 1 and 60")
	}
	hemisphere := strings.ToLower(sharedcfg.EnvOrDefault("UTM_HEMISPHERE", "north"))
	if hemisphere != "north" && hemisphere != "south" {
		return nil, errors.New("UTM_HEMISPHERE must be north or south")
	}
	redisDB, err := strconv.Atoi(sharedcfg.EnvOrDefault("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, errors.New("invalid REDIS_DB")
	}
	maxBytes, err := strconv.ParseInt(sharedcfg.EnvOrDefault("IMAGERY_MAX_RESPONSE_BYTES", "33554432"), 10, 64)
	if err != nil || maxBytes <= 0 {
		return nil, errors.New("invalid IMAGERY_MAX_RESPONSE_BYTES")
	}

	fetchRGB, err := parseBool("FETCH_RGB", "true")
	if err != nil {
		return nil, err
	}
	saveLocal, err := parseBool("SAVE_LOCAL_COPIES", "false")
	if err != nil {
		return nil, err
	}
	secure, err := parseBool("OBJECT_STORE_SECURE", "true")
	if err != nil {
		return nil, err
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		RunInterval:     runInterval,

		FeedURL:     sharedcfg.EnvOrDefault("FEED_URL", DefaultFeedURL),
		FeedTimeout: feedTimeout,

		ImageryURL:              sharedcfg.EnvOrDefault("IMAGERY_URL", "https://earthengine.googleapis.com"),
		ImageryProject:          os.Getenv("IMAGERY_PROJECT"),
		ImageryTimeout:          imageryTimeout,
		ImageryRateLimit:        rateLimit,
		ImageryMaxResponseBytes: maxBytes,
		ServiceAccountFile:      os.Getenv("SERVICE_ACCOUNT_FILE"),
		TokenURL:                os.Getenv("TOKEN_URL"),
		TokenAudience:           sharedcfg.EnvOrDefault("TOKEN_AUDIENCE", "https://earthengine.googleapis.com/"),

		SizeThresholdHa:    sizeThreshold,
		CloudCover:         cloudCover,
		DateRangeDays:      dateRange,
		BBoxMultiplier:     multiplier,
		GroundSampleMeters: gsd,
		FetchRGB:           fetchRGB,
		SaveLocalCopies:    saveLocal,
		OutputDir:          sharedcfg.EnvOrDefault("OUTPUT_DIR", "output"),
		UTMSelection:       sharedcfg.EnvOrDefault("UTM_SELECTION", "fixed"),
		UTMZone:            utmZone,
		UTMNorth:           hemisphere == "north",

		DatabaseURLOverride: os.Getenv("DATABASE_URL"),
		PostgresHost:        sharedcfg.EnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort:        sharedcfg.EnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser:        sharedcfg.EnvOrDefault("POSTGRES_USER", "postgres"),
		PostgresPassword:    os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:          sharedcfg.EnvOrDefault("POSTGRES_DB", "postgres"),
		PerimeterTable:      sharedcfg.EnvOrDefault("PERIMETER_TABLE", "fire_perimeter"),

		ObjectStoreServer:  os.Getenv("OBJECT_STORE_SERVER"),
		ObjectStoreUserID:  os.Getenv("OBJECT_STORE_USER_ID"),
		ObjectStoreSecret:  os.Getenv("OBJECT_STORE_SECRET"),
		ObjectStoreBucket:  os.Getenv("OBJECT_STORE_BUCKET"),
		ObjectStorePrefix:  sharedcfg.EnvOrDefault("OBJECT_STORE_PREFIX", "fire_perimeter"),
		ObjectStoreRegion:  sharedcfg.EnvOrDefault("OBJECT_STORE_REGION", "us-east-1"),
		ObjectStoreSecure:  secure,
		PresignExpiry:      presignExpiry,
		PresignCacheSize:   parseCacheSize(),
		ObjectStoreEnabled: os.Getenv("OBJECT_STORE_SERVER") != "",

		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "fire-perimeters"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		LockTTL:       lockTTL,
	}

	if cfg.UTMSelection != "fixed" && cfg.UTMSelection != "nearest" {
		return nil, errors.New("UTM_SELECTION must be fixed or nearest")
	}
	if !tableNamePattern.MatchString(cfg.PerimeterTable) {
		return nil, errors.New("invalid PERIMETER_TABLE")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// DefaultFeedURL is the public BC Wildfire active fire points layer.
const DefaultFeedURL = "https://services6.arcgis.com/ubm4tcTYICKBpist/arcgis/rest/services/BCWS_ActiveFires_PublicView/FeatureServer/0/query"

// ValidateRun checks the settings the perimeter pipeline cannot run without.
func (c *Config) ValidateRun() error {
	if err := c.ValidateImagery(); err != nil {
		return err
	}
	if c.FeedURL == "" {
		return errors.New("FEED_URL is required")
	}
	return c.validateObjectStore()
}

// ValidateImagery checks the imagery service credentials.
func (c *Config) ValidateImagery() error {
	if c.ServiceAccountFile == "" {
		return errors.New("SERVICE_ACCOUNT_FILE is required")
	}
	if c.ImageryProject == "" {
		return errors.New("IMAGERY_PROJECT is required")
	}
	return nil
}

// ValidateServe checks the settings the preview redirect service needs.
func (c *Config) ValidateServe() error {
	if !c.ObjectStoreEnabled {
		return errors.New("OBJECT_STORE_SERVER is required")
	}
	return c.validateObjectStore()
}

func (c *Config) validateObjectStore() error {
	if !c.ObjectStoreEnabled {
		return nil
	}
	if c.ObjectStoreBucket == "" {
		return errors.New("OBJECT_STORE_BUCKET is required when OBJECT_STORE_SERVER is set")
	}
	if c.ObjectStoreUserID == "" || c.ObjectStoreSecret == "" {
		return errors.New("OBJECT_STORE_USER_ID and OBJECT_STORE_SECRET are required when OBJECT_STORE_SERVER is set")
	}
	return nil
}

// DatabaseURL returns DATABASE_URL when set, otherwise a URL assembled from the POSTGRES_* variables.
func (c *Config) DatabaseURL() string {
	if c.DatabaseURLOverride != "" {
		return c.DatabaseURLOverride
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDB,
	}
	if c.PostgresPassword != "" {
		u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
	} else {
		u.User = url.User(c.PostgresUser)
	}
	return u.String()
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key, def string) (float64, error) {
	f, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func parsePositiveFloat(key, def string) (float64, error) {
	f, err := parseFloat(key, def)
	if err != nil || f == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func parsePositiveInt(key, def string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBool(key, def string) (bool, error) {
	b, err := strconv.ParseBool(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}

func parseCacheSize() int {
	if s := os.Getenv("PRESIGN_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
