package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration shared by both services.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Forward  ForwardConfig  `mapstructure:"forward"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Report   ReportConfig   `mapstructure:"report"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

type ServerConfig struct {
	StageOneAddr    string        `mapstructure:"stage_one_addr"`
	StageTwoAddr    string        `mapstructure:"stage_two_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DataConfig struct {
	StageOneRoot string `mapstructure:"stage_one_root"`
	StageTwoRoot string `mapstructure:"stage_two_root"`
}

type IngestConfig struct {
	MaxArchiveBytes int64 `mapstructure:"max_archive_bytes"`
	MaxExtractBytes int64 `mapstructure:"max_extract_bytes"`
}

type ScannerConfig struct {
	Binary        string        `mapstructure:"binary"`
	Rules         string        `mapstructure:"rules"`
	ExtraArgs     []string      `mapstructure:"extra_args"`
	MaxBatchChars int           `mapstructure:"max_batch_chars"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	Concurrency   int           `mapstructure:"concurrency"`
}

type ForwardConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`
	Endpoint   string        `mapstructure:"endpoint"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type LLMConfig struct {
	Provider        string        `mapstructure:"provider"`
	Model           string        `mapstructure:"model"`
	APIKey          string        `mapstructure:"api_key"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	Concurrency     int           `mapstructure:"concurrency"`
	QueueSize       int           `mapstructure:"queue_size"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	Retries         int           `mapstructure:"retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
}

type ReportConfig struct {
	Title    string `mapstructure:"title"`
	PageSize string `mapstructure:"page_size"`
}

type ArtifactConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Endpoint  string        `mapstructure:"endpoint"`
	Region    string        `mapstructure:"region"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Bucket    string        `mapstructure:"bucket"`
	UseSSL    bool          `mapstructure:"use_ssl"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ColorConfig maps log levels to console color names.
type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
}

type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// SetDefaults registers every default so the services run with no config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.stage_one_addr", ":5000")
	v.SetDefault("server.stage_two_addr", ":5001")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(512<<20))
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("data.stage_one_root", "./data/stage-one")
	v.SetDefault("data.stage_two_root", "./data/stage-two")

	v.SetDefault("ingest.max_archive_bytes", int64(512<<20))
	v.SetDefault("ingest.max_extract_bytes", int64(2<<30))

	v.SetDefault("scanner.binary", "semgrep")
	v.SetDefault("scanner.rules", "auto")
	v.SetDefault("scanner.max_batch_chars", 8000)
	v.SetDefault("scanner.batch_timeout", 60*time.Second)
	v.SetDefault("scanner.concurrency", 2)

	v.SetDefault("forward.enabled", true)
	v.SetDefault("forward.base_url", "http://127.0.0.1:5001")
	v.SetDefault("forward.endpoint", "/deep-analyze")
	v.SetDefault("forward.timeout", 600*time.Second)
	v.SetDefault("forward.retries", 1)
	v.SetDefault("forward.retry_delay", time.Second)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.max_output_tokens", 2048)
	v.SetDefault("llm.call_timeout", 30*time.Second)
	v.SetDefault("llm.concurrency", 4)
	v.SetDefault("llm.queue_size", 16)
	v.SetDefault("llm.rps", 0.0)
	v.SetDefault("llm.burst", 1)
	v.SetDefault("llm.retries", 2)
	v.SetDefault("llm.retry_base_delay", 500*time.Millisecond)

	v.SetDefault("report.title", "Security Audit Report")
	v.SetDefault("report.page_size", "A4")

	v.SetDefault("artifact.enabled", false)
	v.SetDefault("artifact.region", "us-east-1")
	v.SetDefault("artifact.bucket", "auditflow-reports")
	v.SetDefault("artifact.use_ssl", true)
	v.SetDefault("artifact.url_expiry", 24*time.Hour)

	v.SetDefault("nats.subject", "auditflow.jobs")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "auditflow")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
}

// BindEnv wires the AUDITFLOW_ prefix plus the conventional variable names
// used by deployments.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("AUDITFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("llm.api_key", "AUDITFLOW_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "AUDITFLOW_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("forward.base_url", "AUDITFLOW_FORWARD_BASE_URL", "STAGE_TWO_BASE_URL")
	_ = v.BindEnv("artifact.access_key", "AUDITFLOW_ARTIFACT_ACCESS_KEY", "MINIO_ROOT_USER")
	_ = v.BindEnv("artifact.secret_key", "AUDITFLOW_ARTIFACT_SECRET_KEY", "MINIO_ROOT_PASSWORD")
	_ = v.BindEnv("nats.url", "AUDITFLOW_NATS_URL", "NATS_URL")
}

// Load reads .env (if present), the optional config file and the
// environment into a validated Config.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	_ = godotenv.Load()

	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("auditflow")
		v.SetConfigType("yaml")
	}
	BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Forward.BaseURL = strings.TrimRight(strings.TrimSpace(c.Forward.BaseURL), "/")
	c.Artifact.Endpoint = strings.TrimSpace(c.Artifact.Endpoint)
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.Artifact.Endpoint != "" {
		c.Artifact.Enabled = true
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Scanner.MaxBatchChars <= 0 {
		errs = append(errs, errors.New("scanner.max_batch_chars must be positive"))
	}
	if c.Scanner.Concurrency <= 0 {
		errs = append(errs, errors.New("scanner.concurrency must be positive"))
	}
	if c.Scanner.BatchTimeout <= 0 {
		errs = append(errs, errors.New("scanner.batch_timeout must be positive"))
	}
	if c.Forward.Retries < 0 {
		errs = append(errs, errors.New("forward.retries must not be negative"))
	}
	if c.Forward.Enabled {
		if u, err := url.Parse(c.Forward.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("forward.base_url %q is not an absolute URL", c.Forward.BaseURL))
		}
	}
	if c.LLM.Concurrency <= 0 {
		errs = append(errs, errors.New("llm.concurrency must be positive"))
	}
	if c.LLM.QueueSize <= 0 {
		errs = append(errs, errors.New("llm.queue_size must be positive"))
	}
	if c.LLM.CallTimeout <= 0 {
		errs = append(errs, errors.New("llm.call_timeout must be positive"))
	}
	switch c.LLM.Provider {
	case "gemini", "fake":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	switch strings.ToUpper(c.Report.PageSize) {
	case "A4", "A3", "A5", "LETTER", "LEGAL":
	default:
		errs = append(errs, fmt.Errorf("report.page_size %q is not supported", c.Report.PageSize))
	}
	if c.Artifact.Enabled && (c.Artifact.Endpoint == "" || c.Artifact.Bucket == "") {
		errs = append(errs, errors.New("artifact.endpoint and artifact.bucket are required when artifact mirroring is enabled"))
	}
	return errors.Join(errs...)
}
