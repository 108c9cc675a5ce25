package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	prov "github.com/3cpo-dev/stackroll/internal/providers"
	"gopkg.in/yaml.v3"
)

// ConfigDir resolves $XDG_CONFIG_HOME/stackroll or ~/.config/stackroll.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "stackroll")
}

// LoadConfig reads YAML configuration from a path, merges credentials from
// secrets.env and the environment, fills defaults and validates the result.
// If path is empty, it resolves ConfigDir()/config.yaml.
func LoadConfig(path string) (prov.Config, error) {
	var cfg prov.Config
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// Merge secrets from secrets.env if present to avoid storing keys in YAML
	secrets, _ := LoadSecretsEnv(filepath.Join(filepath.Dir(path), "secrets.env"))
	for _, k := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN"} {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}
	if v := secrets["AWS_ACCESS_KEY_ID"]; v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := secrets["AWS_SECRET_ACCESS_KEY"]; v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := secrets["AWS_SESSION_TOKEN"]; v != "" {
		cfg.AWS.SessionToken = v
	}

	applyDefaults(&cfg, filepath.Dir(path))
	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *prov.Config, dir string) {
	if cfg.SSH.User == "" {
		cfg.SSH.User = "ec2-user"
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.TimeoutSeconds == 0 {
		cfg.SSH.TimeoutSeconds = 30
	}
	if cfg.Deploy.Service == "" {
		cfg.Deploy.Service = cfg.Stack.Name
	}
	if cfg.Deploy.LaunchResource == "" {
		cfg.Deploy.LaunchResource = "LaunchConfig"
	}
	if cfg.Deploy.HealthURL == "" {
		cfg.Deploy.HealthURL = "http://localhost:8080/health_check"
	}
	if cfg.Deploy.Operator == "" {
		cfg.Deploy.Operator = os.Getenv("USER")
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(dir, "history.db")
	}
	if cfg.SSH.KeyPath != "" {
		cfg.SSH.KeyPath = expandHome(cfg.SSH.KeyPath)
	}
	if cfg.Stack.TemplatePath != "" {
		cfg.Stack.TemplatePath = expandHome(cfg.Stack.TemplatePath)
	}
}

// Validate checks the configuration once at startup and loads the stack
// template body. Nothing downstream reads files or the environment.
func Validate(cfg *prov.Config) error {
	if cfg.Stack.Name == "" {
		return prov.ValidationError{Field: "stack.name", Message: "stack name is required"}
	}
	if cfg.SSH.KeyPath == "" {
		return prov.ValidationError{Field: "ssh.key_path", Message: "path to the instance private ssh key is required"}
	}
	if _, err := os.Stat(cfg.SSH.KeyPath); err != nil {
		return prov.ValidationError{Field: "ssh.key_path", Value: cfg.SSH.KeyPath, Message: "no file at this path"}
	}
	if cfg.Stack.TemplatePath == "" {
		return prov.ValidationError{Field: "stack.template_path", Message: "path to the stack template is required"}
	}
	body, err := os.ReadFile(cfg.Stack.TemplatePath)
	if err != nil {
		return prov.ValidationError{Field: "stack.template_path", Value: cfg.Stack.TemplatePath, Message: err.Error()}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return prov.ValidationError{Field: "stack.template_path", Value: cfg.Stack.TemplatePath, Message: "template is empty"}
	}
	cfg.Stack.TemplateBody = string(body)
	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		return prov.ValidationError{Field: "ssh.port", Value: fmt.Sprintf("%d", cfg.SSH.Port), Message: "port out of range"}
	}
	return nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
