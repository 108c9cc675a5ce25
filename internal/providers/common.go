package providers

// Config is the on-disk configuration. TemplateBody is not read from YAML;
// it is loaded from Stack.TemplatePath during validation.
type Config struct {
	AWS struct {
		Region          string `yaml:"region"`
		Profile         string `yaml:"profile"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		SessionToken    string `yaml:"session_token"`
	} `yaml:"aws"`
	Stack struct {
		Name         string `yaml:"name"`
		TemplatePath string `yaml:"template_path"`
		LoadBalancer string `yaml:"load_balancer"`
		TemplateBody string `yaml:"-"`
	} `yaml:"stack"`
	SSH struct {
		User           string `yaml:"user"`
		Port           int    `yaml:"port"`
		KeyPath        string `yaml:"key_path"`
		KnownHosts     string `yaml:"known_hosts"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Retries        int    `yaml:"retries"`
	} `yaml:"ssh"`
	Deploy struct {
		Service        string   `yaml:"service"`
		LaunchResource string   `yaml:"launch_resource"`
		HealthURL      string   `yaml:"health_url"`
		Operator       string   `yaml:"operator"`
		Commands       []string `yaml:"commands"`
	} `yaml:"deploy"`
	History struct {
		Path     string `yaml:"path"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"history"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telemetry"`
}
