package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backend names accepted by the configuration.
const (
	DetectorOpenCV = "opencv"
	DetectorONNX   = "onnx"
	DetectorRemote = "remote"

	StorageLocal = "local"
	StorageGCS   = "gcs"
	StorageSFTP  = "sftp"
	StorageFTP   = "ftp"

	CatalogSQLite    = "sqlite"
	CatalogFirestore = "firestore"

	IdentityRandom = "random"
	IdentityUUID7  = "uuid7"
)

type Config struct {
	Port         int
	LogDirectory string
	LogLevel     string

	Detector DetectorConfig
	Storage  StorageConfig
	Catalog  CatalogConfig
	Identity IdentityConfig
	Pipeline PipelineConfig
	MQTT     MQTTConfig
	HTTP     HTTPConfig

	GCPCredentialsFile string
	SentryDSN          string
	SentryEnvironment  string
	CacheTTL           time.Duration
}

type DetectorConfig struct {
	Backend             string
	ModelPath           string
	ConfigPath          string // .pbtxt for the opencv backend
	ONNXLibrary         string
	ConfidenceThreshold float64
	NMSThreshold        float64
	InputSize           int
	Workers             int
	InferenceURL        string
}

type StorageConfig struct {
	Backend       string
	Directory     string
	PublicBaseURL string
	Bucket        string
	Host          string
	Port          int
	Username      string
	Password      string
	KeyFile       string
	Path          string
	Timeout       time.Duration
}

type CatalogConfig struct {
	Backend      string
	DatabasePath string
	ProjectID    string
	Collection   string
}

type IdentityConfig struct {
	Scheme string
	Length int
}

type PipelineConfig struct {
	Sidecar bool
	TempDir string
	Timeout time.Duration
}

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

type HTTPConfig struct {
	DetectRateLimit float64 // requests per second, 0 disables
	DetectRateBurst int
	AllowLogClear   bool // registers DELETE /logs/{level}
}

// Load reads configuration from defaults, an optional YAML file named by CONFIG_FILE,
// a .env file and the process environment, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log.dir", filepath.Join(".", "logs"))
	v.SetDefault("log.level", "info")

	v.SetDefault("detector.backend", DetectorOpenCV)
	v.SetDefault("detector.model_path", filepath.Join(".", "models", "frozen_inference_graph.pb"))
	v.SetDefault("detector.config_path", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt"))
	v.SetDefault("detector.onnx_library", "")
	v.SetDefault("detector.confidence_threshold", 0.5)
	v.SetDefault("detector.nms_threshold", 0.45)
	v.SetDefault("detector.input_size", 640)
	v.SetDefault("detector.workers", 2)
	v.SetDefault("detector.inference_url", "http://localhost:5000/predict")

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.dir", filepath.Join(".", "artifacts"))
	v.SetDefault("storage.public_base_url", "http://localhost:8080")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.host", "")
	v.SetDefault("storage.port", 0)
	v.SetDefault("storage.username", "")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.key_file", "")
	v.SetDefault("storage.path", "detections")
	v.SetDefault("storage.timeout", 30*time.Second)

	v.SetDefault("catalog.backend", CatalogSQLite)
	v.SetDefault("catalog.database_path", filepath.Join(".", "data", "detections.db"))
	v.SetDefault("catalog.project_id", "")
	v.SetDefault("catalog.collection", "detections")

	v.SetDefault("identity.scheme", IdentityRandom)
	v.SetDefault("identity.length", 8)

	v.SetDefault("pipeline.sidecar", true)
	v.SetDefault("pipeline.temp_dir", os.TempDir())
	v.SetDefault("pipeline.timeout", 60*time.Second)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "detections")
	v.SetDefault("mqtt.client_id", "detectionapi")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("http.detect_rate_limit", 0.0)
	v.SetDefault("http.detect_rate_burst", 5)
	v.SetDefault("http.allow_log_clear", false)

	v.SetDefault("gcp.credentials_file", "")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("cache.ttl", 5*time.Second)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:         v.GetInt("port"),
		LogDirectory: v.GetString("log.dir"),
		LogLevel:     strings.ToLower(v.GetString("log.level")),
		Detector: DetectorConfig{
			Backend:             strings.ToLower(v.GetString("detector.backend")),
			ModelPath:           v.GetString("detector.model_path"),
			ConfigPath:          v.GetString("detector.config_path"),
			ONNXLibrary:         v.GetString("detector.onnx_library"),
			ConfidenceThreshold: v.GetFloat64("detector.confidence_threshold"),
			NMSThreshold:        v.GetFloat64("detector.nms_threshold"),
			InputSize:           v.GetInt("detector.input_size"),
			Workers:             v.GetInt("detector.workers"),
			InferenceURL:        v.GetString("detector.inference_url"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(v.GetString("storage.backend")),
			Directory:     v.GetString("storage.dir"),
			PublicBaseURL: strings.TrimRight(v.GetString("storage.public_base_url"), "/"),
			Bucket:        v.GetString("storage.bucket"),
			Host:          v.GetString("storage.host"),
			Port:          v.GetInt("storage.port"),
			Username:      v.GetString("storage.username"),
			Password:      v.GetString("storage.password"),
			KeyFile:       v.GetString("storage.key_file"),
			Path:          strings.Trim(v.GetString("storage.path"), "/"),
			Timeout:       v.GetDuration("storage.timeout"),
		},
		Catalog: CatalogConfig{
			Backend:      strings.ToLower(v.GetString("catalog.backend")),
			DatabasePath: v.GetString("catalog.database_path"),
			ProjectID:    v.GetString("catalog.project_id"),
			Collection:   v.GetString("catalog.collection"),
		},
		Identity: IdentityConfig{
			Scheme: strings.ToLower(v.GetString("identity.scheme")),
			Length: v.GetInt("identity.length"),
		},
		Pipeline: PipelineConfig{
			Sidecar: v.GetBool("pipeline.sidecar"),
			TempDir: v.GetString("pipeline.temp_dir"),
			Timeout: v.GetDuration("pipeline.timeout"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("mqtt.broker"),
			Topic:    v.GetString("mqtt.topic"),
			ClientID: v.GetString("mqtt.client_id"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
		},
		HTTP: HTTPConfig{
			DetectRateLimit: v.GetFloat64("http.detect_rate_limit"),
			DetectRateBurst: v.GetInt("http.detect_rate_burst"),
			AllowLogClear:   v.GetBool("http.allow_log_clear"),
		},
		GCPCredentialsFile: v.GetString("gcp.credentials_file"),
		SentryDSN:          v.GetString("sentry.dsn"),
		SentryEnvironment:  v.GetString("sentry.environment"),
		CacheTTL:           v.GetDuration("cache.ttl"),
	}
}

// Validate checks backend names and numeric ranges.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.Detector.Backend {
	case DetectorOpenCV, DetectorONNX, DetectorRemote:
	default:
		return fmt.Errorf("unknown detector backend: %q", c.Detector.Backend)
	}
	if c.Detector.ConfidenceThreshold <= 0 || c.Detector.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0,1], got %v", c.Detector.ConfidenceThreshold)
	}
	if c.Detector.NMSThreshold <= 0 || c.Detector.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold must be in (0,1], got %v", c.Detector.NMSThreshold)
	}
	if c.Detector.Workers < 1 {
		return fmt.Errorf("detector workers must be at least 1, got %d", c.Detector.Workers)
	}

	switch c.Storage.Backend {
	case StorageLocal:
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage backend %q requires a bucket", c.Storage.Backend)
		}
	case StorageSFTP, StorageFTP:
		if c.Storage.Host == "" {
			return fmt.Errorf("storage backend %q requires a host", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	switch c.Catalog.Backend {
	case CatalogSQLite:
	case CatalogFirestore:
		if c.Catalog.ProjectID == "" {
			return fmt.Errorf("catalog backend %q requires a project id", c.Catalog.Backend)
		}
	default:
		return fmt.Errorf("unknown catalog backend: %q", c.Catalog.Backend)
	}

	switch c.Identity.Scheme {
	case IdentityRandom:
		if c.Identity.Length < 4 {
			return fmt.Errorf("identity length must be at least 4, got %d", c.Identity.Length)
		}
	case IdentityUUID7:
	default:
		return fmt.Errorf("unknown identity scheme: %q", c.Identity.Scheme)
	}

	return nil
}
