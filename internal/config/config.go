// Package config loads the service configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full docintake configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	Store       StoreConfig       `yaml:"store"`
	Storage     StorageConfig     `yaml:"storage"`
	OCR         OCRConfig         `yaml:"ocr"`
	Handoff     HandoffConfig     `yaml:"handoff"`
	Restructure RestructureConfig `yaml:"restructure"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	// Driver is "sqlite" or "firestore".
	Driver     string `yaml:"driver"`
	DBPath     string `yaml:"db_path"`
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	// Provider is "s3" or "gcs".
	Provider        string `yaml:"provider"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// OCRConfig configures the extraction pipeline trigger and its callback.
type OCRConfig struct {
	// Mode is "lambda" (HTTP trigger) or "workflow" (Cloud Workflows).
	Mode             string `yaml:"mode"`
	TriggerURL       string `yaml:"trigger_url"`
	ProjectID        string `yaml:"project_id"`
	WorkflowLocation string `yaml:"workflow_location"`
	WorkflowID       string `yaml:"workflow_id"`
	WebhookSecret    string `yaml:"webhook_secret"`
}

// HandoffConfig configures the workflow automation hand-off.
type HandoffConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// RestructureConfig configures the optional Vertex AI table cleanup pass.
type RestructureConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	Region    string `yaml:"region"`
	Model     string `yaml:"model"`
}

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Load reads the config at path (optional) and applies defaults and
// environment overrides. Secrets can always come from the environment so
// they never have to live in the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = GetEnv("LISTEN_ADDR", c.ListenAddr)
	c.Store.Driver = GetEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DBPath = GetEnv("STORE_DB_PATH", c.Store.DBPath)
	c.Store.ProjectID = GetEnv("PROJECT_ID", c.Store.ProjectID)
	c.Storage.Provider = GetEnv("STORAGE_PROVIDER", c.Storage.Provider)
	c.Storage.Bucket = GetEnv("STORAGE_BUCKET", c.Storage.Bucket)
	c.Storage.AccessKeyID = GetEnv("AWS_ACCESS_KEY_ID", c.Storage.AccessKeyID)
	c.Storage.SecretAccessKey = GetEnv("AWS_SECRET_ACCESS_KEY", c.Storage.SecretAccessKey)
	c.OCR.TriggerURL = GetEnv("OCR_TRIGGER_URL", c.OCR.TriggerURL)
	c.OCR.WebhookSecret = GetEnv("WEBHOOK_SECRET", c.OCR.WebhookSecret)
	c.Handoff.URL = GetEnv("HANDOFF_URL", c.Handoff.URL)
	c.Handoff.Secret = GetEnv("HANDOFF_SECRET", c.Handoff.Secret)
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = "docintake.db"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "documents"
	}
	if c.Storage.Provider == "" {
		c.Storage.Provider = "s3"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-2"
	}
	if c.OCR.Mode == "" {
		c.OCR.Mode = "lambda"
	}
	if c.OCR.WorkflowLocation == "" {
		c.OCR.WorkflowLocation = "us-central1"
	}
	if c.OCR.WorkflowID == "" {
		c.OCR.WorkflowID = "statement-extraction"
	}
	if c.Restructure.Region == "" {
		c.Restructure.Region = "us-central1"
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "firestore":
		if c.Store.ProjectID == "" {
			return fmt.Errorf("store: project_id is required for the firestore driver")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	switch c.Storage.Provider {
	case "s3", "gcs":
	default:
		return fmt.Errorf("storage: unknown provider %q", c.Storage.Provider)
	}

	switch c.OCR.Mode {
	case "lambda", "workflow", "none":
	default:
		return fmt.Errorf("ocr: unknown mode %q", c.OCR.Mode)
	}
	return nil
}
