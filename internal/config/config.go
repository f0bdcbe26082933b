package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the worker configuration read from the environment
type Config struct {
	HTTPAddr string `envconfig:"WORKER_HTTP_ADDR" default:":8081"`

	// HTTPInputRoot is the only directory HTTP requests may name local files in; empty accepts content ids only
	HTTPInputRoot string `envconfig:"HTTP_INPUT_ROOT"`

	// Workflow template and the node ids it binds
	WorkflowTemplate   string `envconfig:"WORKFLOW_TEMPLATE" default:"templates/become-image-api.json"`
	ReducedTemplate    bool   `envconfig:"REDUCED_TEMPLATE"` // template has no batch multiplier node
	CheckWorkflowInput bool   `envconfig:"CHECK_WORKFLOW_INPUTS" default:"true"`

	// Workspace shared with the engine
	InputDir      string `envconfig:"INPUT_DIR" default:"/tmp/inputs"`
	OutputDir     string `envconfig:"OUTPUT_DIR" default:"/tmp/outputs"`
	EngineTempDir string `envconfig:"ENGINE_TEMP_DIR" default:"ComfyUI/temp"`
	StagingDir    string `envconfig:"STAGING_DIR" default:"/tmp/staging"`

	// Engine
	EngineAddr         string        `envconfig:"ENGINE_ADDR" default:"127.0.0.1:8188"`
	EngineCommand      []string      `envconfig:"ENGINE_COMMAND"`
	EngineReadyTimeout time.Duration `envconfig:"ENGINE_READY_TIMEOUT" default:"5m"`
	RunTimeout         time.Duration `envconfig:"RUN_TIMEOUT" default:"30m"`

	// Safety checker; empty disables screening entirely
	SafetyCheckerURL       string `envconfig:"SAFETY_CHECKER_URL"`
	ScreenNormalizedInputs bool   `envconfig:"SCREEN_NORMALIZED_INPUTS"`

	// Content service; empty uses the embedded development service
	ContentAPIURL string `envconfig:"CONTENT_API_URL"`
	StorageDir    string `envconfig:"STORAGE_DIR" default:"./dev-data"`

	// DBOS; empty disables the async queue
	DatabaseURL        string `envconfig:"DBOS_SYSTEM_DATABASE_URL"`
	AppName            string `envconfig:"DBOS_APP_NAME" default:"become-worker"`
	QueueName          string `envconfig:"DBOS_QUEUE_NAME" default:"default"`
	ApplicationVersion string `envconfig:"DBOS_APPLICATION_VERSION"`

	// Run status store: redis when set, else postgres when DBOS is configured, else memory
	RedisURL string        `envconfig:"REDIS_URL"`
	RunTTL   time.Duration `envconfig:"RUN_TTL" default:"24h"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads .env if it exists (silently ignored if not found) and then the process environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if cfg.WorkflowTemplate == "" {
		return nil, fmt.Errorf("WORKFLOW_TEMPLATE is required")
	}
	return &cfg, nil
}
