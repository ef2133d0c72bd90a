package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/validation"
)

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
}

type RelayConfig struct {
	Endpoint string        `mapstructure:"endpoint" validate:"required,url"`
	Encoding string        `mapstructure:"encoding" validate:"oneof=form json"`
	Timeout  time.Duration `mapstructure:"timeout"  validate:"gt=0"`
	Subject  string        `mapstructure:"subject"`
	Format   string        `mapstructure:"format"`
	ReplyTo  string        `mapstructure:"reply_to" validate:"omitempty,email"`
}

type DeviceConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"              validate:"min=8s,max=15s"`
	MaximumAge         time.Duration `mapstructure:"maximum_age"          validate:"min=0s,max=5m"`
	EnableHighAccuracy bool          `mapstructure:"enable_high_accuracy"`
	ReverseGeocode     bool          `mapstructure:"reverse_geocode"`
}

type IPLookupConfig struct {
	PrimaryURL string        `mapstructure:"primary_url" validate:"required,url"`
	BackupURL  string        `mapstructure:"backup_url"  validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout"     validate:"gt=0"`
	RetryMax   int           `mapstructure:"retry_max"   validate:"min=0,max=5"`
	Warmup     []string      `mapstructure:"warmup"      validate:"dive,ip"`
}

type NominatimConfig struct {
	URL       string `mapstructure:"url"        validate:"required,url"`
	UserAgent string `mapstructure:"user_agent" validate:"required"`
	Language  string `mapstructure:"language"`
}

type LocationConfig struct {
	Strategy      string          `mapstructure:"strategy"       validate:"oneof=device ip"`
	AdvisoryAfter time.Duration   `mapstructure:"advisory_after" validate:"gt=0"`
	Device        DeviceConfig    `mapstructure:"device"`
	IP            IPLookupConfig  `mapstructure:"ip"`
	Nominatim     NominatimConfig `mapstructure:"nominatim"`
}

type PresenterConfig struct {
	SuccessDismiss time.Duration `mapstructure:"success_dismiss" validate:"min=5s,max=8s"`
	ResetDelay     time.Duration `mapstructure:"reset_delay"     validate:"gt=0"`
}

type CacheConfig struct {
	Path string        `mapstructure:"path" validate:"required"`
	TTL  time.Duration `mapstructure:"ttl"  validate:"gt=0"`
}

type CelebrationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Duration time.Duration `mapstructure:"duration" validate:"gt=0"`
}

type SessionsConfig struct {
	IdleTTL time.Duration `mapstructure:"idle_ttl" validate:"gt=0"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CronSpec string `mapstructure:"cron"    validate:"required"`
}

type RateLimitConfig struct {
	RedisHost       string `mapstructure:"redis_host"`
	SubmitPerMinute int64  `mapstructure:"submit_per_minute" validate:"min=0"`
	FailOpen        bool   `mapstructure:"fail_open"`
}

// See christmas.example.yaml for an example config
type Config struct {
	ListenAddress        string            `mapstructure:"listen_address"         validate:"required"`
	AdminListenAddress   string            `mapstructure:"admin_listen_address"   validate:"omitempty,nefield=ListenAddress"`
	GracefulShutdownSecs int64             `mapstructure:"graceful_shutdown_secs" validate:"min=0"`
	Logging              LoggingConfig     `mapstructure:"logging"`
	Relay                RelayConfig       `mapstructure:"relay"`
	Location             LocationConfig    `mapstructure:"location"`
	Presenter            PresenterConfig   `mapstructure:"presenter"`
	Cache                CacheConfig       `mapstructure:"cache"`
	Celebration          CelebrationConfig `mapstructure:"celebration"`
	Sessions             SessionsConfig    `mapstructure:"sessions"`
	Scheduler            SchedulerConfig   `mapstructure:"scheduler"`
	RateLimit            RateLimitConfig   `mapstructure:"ratelimit"`
}

const (
	EnvPrefix string = "christmas"

	ListenAddress          string = "listen_address"
	AdminListenAddress     string = "admin_listen_address"
	GracefulShutdownSecs   string = "graceful_shutdown_secs"
	LogLevel               string = "logging.level"
	RelayEndpoint          string = "relay.endpoint"
	RelayEncoding          string = "relay.encoding"
	RelayTimeout           string = "relay.timeout"
	RelaySubject           string = "relay.subject"
	RelayFormat            string = "relay.format"
	RelayReplyTo           string = "relay.reply_to"
	LocationStrategy       string = "location.strategy"
	LocationAdvisoryAfter  string = "location.advisory_after"
	DeviceTimeout          string = "location.device.timeout"
	DeviceMaximumAge       string = "location.device.maximum_age"
	DeviceHighAccuracy     string = "location.device.enable_high_accuracy"
	DeviceReverseGeocode   string = "location.device.reverse_geocode"
	IPPrimaryURL           string = "location.ip.primary_url"
	IPBackupURL            string = "location.ip.backup_url"
	IPTimeout              string = "location.ip.timeout"
	IPRetryMax             string = "location.ip.retry_max"
	IPWarmup               string = "location.ip.warmup"
	NominatimURL           string = "location.nominatim.url"
	NominatimUserAgent     string = "location.nominatim.user_agent"
	NominatimLanguage      string = "location.nominatim.language"
	PresenterSuccessDelay  string = "presenter.success_dismiss"
	PresenterResetDelay    string = "presenter.reset_delay"
	CachePath              string = "cache.path"
	CacheTTL               string = "cache.ttl"
	CelebrationEnabled     string = "celebration.enabled"
	CelebrationDuration    string = "celebration.duration"
	SessionsIdleTTL        string = "sessions.idle_ttl"
	SchedulerEnabled       string = "scheduler.enabled"
	SchedulerCron          string = "scheduler.cron"
	RateLimitRedisHost     string = "ratelimit.redis_host"
	RateLimitSubmitPerMin  string = "ratelimit.submit_per_minute"
	RateLimitFailOpen      string = "ratelimit.fail_open"
	DefaultRelayEndpoint   string = "https://formspree.io/f/mgoeyjon"
	DefaultIPPrimaryURL    string = "https://ipapi.co/json/"
	DefaultIPBackupURL     string = "https://geolocation-db.com/json/"
	DefaultNominatimURL    string = "https://nominatim.openstreetmap.org/reverse"
	DefaultNominatimAgent  string = "christmas-surprise/1.0"
	DefaultRelaySubject    string = "🎄 Christmas Surprise Request"
	DefaultRelayReplyTo    string = "noreply@christmassurprise.com"
	defaultConfigName      string = "christmas"
	defaultSystemConfigDir string = "/etc/christmas-surprise/"
)

// keys that only exist as env vars in some deployments and therefore need explicit binding
var envBound = []string{RelayEndpoint, RateLimitRedisHost, LogLevel}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ListenAddress, ":8080")
	v.SetDefault(AdminListenAddress, "127.0.0.1:8081")
	v.SetDefault(GracefulShutdownSecs, 10)
	v.SetDefault(LogLevel, "info")

	v.SetDefault(RelayEndpoint, DefaultRelayEndpoint)
	v.SetDefault(RelayEncoding, "form")
	v.SetDefault(RelayTimeout, 15*time.Second)
	v.SetDefault(RelaySubject, DefaultRelaySubject)
	v.SetDefault(RelayFormat, "plain")
	v.SetDefault(RelayReplyTo, DefaultRelayReplyTo)

	v.SetDefault(LocationStrategy, "ip")
	v.SetDefault(LocationAdvisoryAfter, 5*time.Second)
	v.SetDefault(DeviceTimeout, 10*time.Second)
	v.SetDefault(DeviceMaximumAge, 5*time.Minute)
	v.SetDefault(DeviceHighAccuracy, true)
	v.SetDefault(DeviceReverseGeocode, true)
	v.SetDefault(IPPrimaryURL, DefaultIPPrimaryURL)
	v.SetDefault(IPBackupURL, DefaultIPBackupURL)
	v.SetDefault(IPTimeout, 5*time.Second)
	v.SetDefault(IPRetryMax, 1)
	v.SetDefault(IPWarmup, []string{})
	v.SetDefault(NominatimURL, DefaultNominatimURL)
	v.SetDefault(NominatimUserAgent, DefaultNominatimAgent)
	v.SetDefault(NominatimLanguage, "en")

	v.SetDefault(PresenterSuccessDelay, 8*time.Second)
	v.SetDefault(PresenterResetDelay, 8*time.Second)

	v.SetDefault(CachePath, "data/locations.db")
	v.SetDefault(CacheTTL, 24*time.Hour)

	v.SetDefault(CelebrationEnabled, true)
	v.SetDefault(CelebrationDuration, 5*time.Second)

	v.SetDefault(SessionsIdleTTL, 30*time.Minute)

	v.SetDefault(SchedulerEnabled, true)
	v.SetDefault(SchedulerCron, "*/10 * * * *")

	v.SetDefault(RateLimitRedisHost, "")
	v.SetDefault(RateLimitSubmitPerMin, 0)
	v.SetDefault(RateLimitFailOpen, true)
}

// Load reads the config file (if any), applies CHRISTMAS_* env overrides and validates the result.
// An empty path searches /etc/christmas-surprise/ and the working directory for christmas.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(defaultConfigName)
		v.AddConfigPath(defaultSystemConfigDir)
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envBound {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// ignore config file not found to allow pure env config
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.Debug("No config file found, using defaults and environment")
	} else {
		logger.Info("Loaded config from %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	valid := validation.New()
	if err := valid.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// PositionOptions converts the device settings to the browser geolocation options.
func (c *Config) PositionOptions() models.PositionOptions {
	return models.PositionOptions{
		EnableHighAccuracy: c.Location.Device.EnableHighAccuracy,
		Timeout:            c.Location.Device.Timeout.Milliseconds(),
		MaximumAge:         c.Location.Device.MaximumAge.Milliseconds(),
	}
}
