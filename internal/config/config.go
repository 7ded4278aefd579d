// Package config provides configuration management for the index CLI tool.
// Configuration is read from a local YAML file or from a Kubernetes ConfigMap
// overridden by a Secret, merged over built-in defaults and validated.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/stackvista/stackstate-index-cli/internal/logger"
	"github.com/stackvista/stackstate-index-cli/internal/naming"
	"github.com/stackvista/stackstate-index-cli/internal/rotation"
)

// Cluster modes
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Rotation lock kinds
const (
	LockNone    = "none"
	LockMutex   = "mutex"
	LockFile    = "file"
	LockCluster = "cluster"
)

// Config represents the merged configuration
type Config struct {
	Cluster  ClusterConfig  `yaml:"cluster" validate:"required"`
	Rotation RotationConfig `yaml:"rotation"`
	Reindex  ReindexConfig  `yaml:"reindex"`
}

// ClusterConfig holds connection details of the cluster the tool manages
type ClusterConfig struct {
	Mode        string        `yaml:"mode" validate:"oneof=local remote"`
	URL         string        `yaml:"url" validate:"omitempty,url"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`    // From secret
	Credentials string        `yaml:"credentials"` // From secret
	Legacy      bool          `yaml:"legacy"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	Service     ServiceConfig `yaml:"service"`
}

// ServiceConfig names a Kubernetes service to port-forward to when no URL is set
type ServiceConfig struct {
	Name                 string `yaml:"name"`
	Port                 int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	LocalPortForwardPort int    `yaml:"localPortForwardPort" validate:"omitempty,min=1,max=65535"`
}

// RotationConfig holds rotation naming, locking and scheduled jobs
type RotationConfig struct {
	Suffixes        naming.Suffixes `yaml:"suffixes"`
	TimestampLayout string          `yaml:"timestampLayout" validate:"required"`
	Lock            string          `yaml:"lock" validate:"oneof=none mutex file cluster"`
	LockDir         string          `yaml:"lockDir"`
	Jobs            []RotationJob   `yaml:"jobs" validate:"dive"`
}

// RotationJob is one scheduled rotation
type RotationJob struct {
	Base           string                 `yaml:"base" validate:"required"`
	Cron           string                 `yaml:"cron" validate:"required"`
	RetainTotal    int                    `yaml:"retainTotal" validate:"min=1"`
	RetainSearch   int                    `yaml:"retainSearch" validate:"min=1"`
	DeleteOnExpire bool                   `yaml:"deleteOnExpire"`
	NewIndex       rotation.IndexSettings `yaml:"newIndex"`
}

// ReindexConfig holds defaults of the migration commands
type ReindexConfig struct {
	HitsPerPage int           `yaml:"hitsPerPage" validate:"min=1"`
	KeepTime    time.Duration `yaml:"keepTime" validate:"gt=0"`
	Wait        time.Duration `yaml:"wait" validate:"gte=0"`
	Workers     int           `yaml:"workers" validate:"min=1"`
	// WritersLabelSelector selects the deployments paused by --pause-writers
	WritersLabelSelector string `yaml:"writersLabelSelector"`
}

// Defaults returns the configuration used for every value not set explicitly
func Defaults() *Config {
	return &Config{
		Cluster: ClusterConfig{
			Mode:    ModeLocal,
			Timeout: 20 * time.Second,
			Service: ServiceConfig{Port: 9200, LocalPortForwardPort: 9200},
		},
		Rotation: RotationConfig{
			Suffixes:        naming.DefaultSuffixes(),
			TimestampLayout: naming.DefaultLayout,
			Lock:            LockMutex,
			LockDir:         os.TempDir(),
		},
		Reindex: ReindexConfig{
			HitsPerPage: 100,
			KeepTime:    100 * time.Minute,
			Workers:     1,
		},
	}
}

// Parse reads YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	config := Defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyJobDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile loads configuration from a local YAML file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file '%s': %w", path, err)
	}
	return config, nil
}

// LoadConfig loads and merges configuration from ConfigMap and Secret.
// ConfigMap provides base configuration, Secret overrides it.
// The merged result is validated with validator.
func LoadConfig(ctx context.Context, clientset kubernetes.Interface, namespace, configMapName, secretName string, log *logger.Logger) (*Config, error) {
	if configMapName == "" {
		return nil, fmt.Errorf("ConfigMap name is required")
	}
	config := Defaults()

	cm, err := clientset.CoreV1().ConfigMaps(namespace).Get(ctx, configMapName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ConfigMap '%s': %w", configMapName, err)
	}
	configData, ok := cm.Data["config"]
	if !ok {
		return nil, fmt.Errorf("ConfigMap '%s' does not contain 'config' key", configMapName)
	}
	if err := yaml.Unmarshal([]byte(configData), config); err != nil {
		return nil, fmt.Errorf("failed to parse ConfigMap config: %w", err)
	}

	// Secret is optional - only used for overrides
	if secretName != "" {
		secret, err := clientset.CoreV1().Secrets(namespace).Get(ctx, secretName, metav1.GetOptions{})
		if err != nil {
			log.Warningf("Secret '%s' not found, using ConfigMap only", secretName)
		} else if secretData, ok := secret.Data["config"]; ok {
			var secretConfig Config
			if err := yaml.Unmarshal(secretData, &secretConfig); err != nil {
				return nil, fmt.Errorf("failed to parse Secret config: %w", err)
			}
			// Non-zero values override
			if err := mergo.Merge(config, secretConfig, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge Secret config: %w", err)
			}
		}
	}

	applyJobDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Override merges the non-zero values of overrides (usually built from flags) into config
func Override(config *Config, overrides Config) error {
	if err := mergo.Merge(config, overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to apply overrides: %w", err)
	}
	return Validate(config)
}

func applyJobDefaults(config *Config) {
	defaults := rotation.DefaultIndexSettings()
	for i := range config.Rotation.Jobs {
		job := &config.Rotation.Jobs[i]
		if job.RetainTotal == 0 {
			job.RetainTotal = 1
		}
		if job.RetainSearch == 0 {
			job.RetainSearch = 1
		}
		// Replicas may legitimately be 0, so only a fully empty block takes the defaults
		if job.NewIndex == (rotation.IndexSettings{}) {
			job.NewIndex = defaults
		}
		if job.NewIndex.Shards == 0 {
			job.NewIndex.Shards = defaults.Shards
		}
	}
}

// Validate checks field rules and the rules spanning several fields
func Validate(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cluster := config.Cluster
	if cluster.URL == "" && cluster.Service.Name == "" {
		return fmt.Errorf("configuration validation failed: cluster.url or cluster.service.name is required")
	}
	if cluster.Mode == ModeRemote && cluster.URL == "" {
		return fmt.Errorf("configuration validation failed: cluster.url is required in remote mode")
	}
	if config.Rotation.Lock == LockFile && config.Rotation.LockDir == "" {
		return fmt.Errorf("configuration validation failed: rotation.lockDir is required for file locks")
	}

	seen := make(map[string]bool, len(config.Rotation.Jobs))
	for _, job := range config.Rotation.Jobs {
		if seen[job.Base] {
			return fmt.Errorf("configuration validation failed: rotation job %s is defined twice", job.Base)
		}
		seen[job.Base] = true
	}
	return nil
}

// Resolver returns the index naming configured for rotation
func (c *Config) Resolver() naming.Resolver {
	return naming.Resolver{Suffixes: c.Rotation.Suffixes, Layout: c.Rotation.TimestampLayout}
}

// Context carries the CLI flags shared by every command
type Context struct {
	Config *CLIConfig
}

// CLIConfig holds global flag values
type CLIConfig struct {
	ConfigFile    string
	Namespace     string
	Kubeconfig    string
	Debug         bool
	Quiet         bool
	ConfigMapName string
	SecretName    string
	OutputFormat  string // table, json
}

// NewContext creates an empty CLI context
func NewContext() *Context {
	return &Context{
		Config: &CLIConfig{},
	}
}
