package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/studiowebux/taskload/internal/logging"
	"github.com/studiowebux/taskload/internal/taskapi"
	"github.com/studiowebux/taskload/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755

	// EnvBaseURL overrides the task manager base URL
	EnvBaseURL = "TASK_MANAGER_API"
	// DefaultBaseURL is the task manager used when nothing else is configured
	DefaultBaseURL = "https://wenet.u-hopper.com/dev/task_manager"
	// LocalConfigFile is picked up from the working directory when no
	// config file is given
	LocalConfigFile = "taskload.yaml"
)

var (
	// ConfigDir is the global configuration directory (~/.taskload)
	ConfigDir string

	// DatabasePath is the SQLite database file for stored runs
	DatabasePath string
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// url_format validates URL structure
	validate.RegisterValidation("url_format", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})
}

// Options is the full run configuration
type Options struct {
	BaseURL       string               `yaml:"base_url" default:"https://wenet.u-hopper.com/dev/task_manager" validate:"required,url_format"`
	Name          string               `yaml:"name" default:"task manager performance" validate:"required"`
	VUs           int                  `yaml:"vus" default:"1" validate:"min=1,max=1000"`
	Iterations    int                  `yaml:"iterations" default:"1" validate:"min=0,max=1000000"`
	Duration      time.Duration        `yaml:"duration" validate:"min=0"`
	RampUp        time.Duration        `yaml:"ramp_up" validate:"min=0"`
	GracefulStop  time.Duration        `yaml:"graceful_stop" default:"30s" validate:"min=0"`
	Timeout       time.Duration        `yaml:"timeout" default:"10s" validate:"min=0"`
	Compare       string               `yaml:"compare" default:"deep" validate:"oneof=deep deep-unordered charset"`
	PagePolicy    string               `yaml:"page_policy" default:"scan" validate:"oneof=lenient scan"`
	PageLimit     int                  `yaml:"page_limit" default:"10" validate:"min=1"`
	MaxPages      int                  `yaml:"max_pages" default:"100" validate:"min=1"`
	VerifyDeleted bool                 `yaml:"verify_deleted"`
	Thresholds    []string             `yaml:"thresholds"`
	Store         bool                 `yaml:"store" default:"true"`
	DBPath        string               `yaml:"db_path"`
	TLS           types.TLSConfig      `yaml:"tls"`
	TaskType      *types.TaskTypeInput `yaml:"task_type" validate:"omitempty"`
	Paths         taskapi.Paths        `yaml:"paths"`
	Log           logging.Options      `yaml:"log"`
}

// Initialize sets up the configuration directory
// It creates ~/.taskload/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	ConfigDir = filepath.Join(homeDir, ".taskload")
	DatabasePath = filepath.Join(ConfigDir, "taskload.db")

	if err := os.MkdirAll(ConfigDir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", ConfigDir, err)
	}
	return nil
}

// Load builds options from defaults, then the YAML file, then the env file,
// then TASK_MANAGER_API. An empty configPath falls back to ./taskload.yaml
// when present; an empty envFile loads ./.env when present.
func Load(configPath, envFile string) (*Options, error) {
	opts := &Options{}
	if err := defaults.Set(opts); err != nil {
		return nil, fmt.Errorf("failed to apply default values: %w", err)
	}

	if configPath == "" && LocalConfigExists() {
		configPath = LocalConfigFile
	}
	if configPath != "" {
		if err := loadFile(configPath, opts); err != nil {
			return nil, err
		}
	}

	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}
	if baseURL := strings.TrimSpace(os.Getenv(EnvBaseURL)); baseURL != "" {
		opts.BaseURL = baseURL
	}

	return opts, nil
}

func loadFile(path string, opts *Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// LocalConfigExists checks if there's a taskload.yaml in the working directory
func LocalConfigExists() bool {
	_, err := os.Stat(LocalConfigFile)
	return err == nil
}

// Validate checks the options after every layer has been applied
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var errMessages []string
			for _, fieldErr := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"field '%s' failed validation (rule: %s)",
					fieldErr.Namespace(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errMessages, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	if o.Iterations == 0 && o.Duration == 0 {
		return fmt.Errorf("config validation failed: either iterations or duration must be set")
	}
	return nil
}

// ResolveDBPath returns the database file for stored runs
func (o *Options) ResolveDBPath() string {
	if o.DBPath == "" {
		return DatabasePath
	}
	if strings.HasPrefix(o.DBPath, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, o.DBPath[2:])
		}
	}
	return o.DBPath
}

// TaskTypeInput returns the configured task type or the default one
func (o *Options) TaskTypeInput() types.TaskTypeInput {
	if o.TaskType == nil {
		return types.DefaultTaskType()
	}
	return *o.TaskType
}
