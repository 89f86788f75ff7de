package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr            string
		MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
		TrustedProxies  []string      `mapstructure:"trusted_proxies"`
		TLSCert         string        `mapstructure:"tls_cert"`
		TLSKey          string        `mapstructure:"tls_key"`
	}
	Log struct {
		Level  string
		Format string
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret               string        `mapstructure:"jwt_secret"`
		TokenIssuer             string        `mapstructure:"token_issuer"`
		TokenTTL                time.Duration `mapstructure:"token_ttl"`
		BcryptCost              int           `mapstructure:"bcrypt_cost"`
		TOTPIssuer              string        `mapstructure:"totp_issuer"`
		RequireTOTPConfirmation bool          `mapstructure:"require_totp_confirmation"`
		Store                   string
		StoreTimeout            time.Duration `mapstructure:"store_timeout"`
		DynamoTable             string        `mapstructure:"dynamo_table"`
		DynamoEndpoint          string        `mapstructure:"dynamo_endpoint"`
	}
	RateLimit struct {
		Max    int
		Window time.Duration
	} `mapstructure:"ratelimit"`
	Storage struct {
		Bucket       string
		Region       string
		Endpoint     string
		Timeout      time.Duration
		MaxFileBytes int           `mapstructure:"max_file_bytes"`
		URLExpiry    time.Duration `mapstructure:"url_expiry"`
	}
	Execution struct {
		Cluster        string
		TaskDefinition string `mapstructure:"task_definition"`
		ContainerName  string `mapstructure:"container_name"`
		Subnets        []string
		SecurityGroups []string `mapstructure:"security_groups"`
		AssignPublicIP bool     `mapstructure:"assign_public_ip"`
		Languages      []string
		MaxCodeBytes   int           `mapstructure:"max_code_bytes"`
		SubmitTimeout  time.Duration `mapstructure:"submit_timeout"`
		Region         string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("CLOUDJADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	cfg.Server.TrustedProxies = splitList(cfg.Server.TrustedProxies)
	cfg.Execution.Subnets = splitList(cfg.Execution.Subnets)
	cfg.Execution.SecurityGroups = splitList(cfg.Execution.SecurityGroups)
	cfg.Execution.Languages = splitList(cfg.Execution.Languages)
	if cfg.Execution.Region == "" {
		cfg.Execution.Region = cfg.Storage.Region
	}

	return cfg, nil
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server tls cert and key must be set together")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth jwt secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth jwt secret must be at least 32 bytes")
	}
	switch c.Auth.Store {
	case "sqlite", "memory":
	case "dynamodb":
		if c.Auth.DynamoTable == "" {
			return fmt.Errorf("auth dynamo table is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("unknown auth store %q", c.Auth.Store)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	if c.Execution.Cluster == "" || c.Execution.TaskDefinition == "" {
		return fmt.Errorf("execution cluster and task definition are required")
	}
	if len(c.Execution.Subnets) == 0 {
		return fmt.Errorf("execution subnets are required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:3001")
	v.SetDefault("server.max_body_bytes", 6<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.path", "data/cloudjade.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_issuer", "cloudjade-ide")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.totp_issuer", "CloudJade IDE")
	v.SetDefault("auth.require_totp_confirmation", false)
	v.SetDefault("auth.store", "sqlite")
	v.SetDefault("auth.store_timeout", 5*time.Second)
	v.SetDefault("auth.dynamo_table", "Users")
	v.SetDefault("auth.dynamo_endpoint", "")
	v.SetDefault("ratelimit.max", 100)
	v.SetDefault("ratelimit.window", 15*time.Minute)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.timeout", 30*time.Second)
	v.SetDefault("storage.max_file_bytes", 5<<20)
	v.SetDefault("storage.url_expiry", 15*time.Minute)
	v.SetDefault("execution.cluster", "")
	v.SetDefault("execution.task_definition", "")
	v.SetDefault("execution.container_name", "code-execution-container")
	v.SetDefault("execution.subnets", []string{})
	v.SetDefault("execution.security_groups", []string{})
	v.SetDefault("execution.assign_public_ip", true)
	v.SetDefault("execution.languages", []string{"java", "python", "javascript"})
	v.SetDefault("execution.max_code_bytes", 8000)
	v.SetDefault("execution.submit_timeout", 10*time.Second)
	v.SetDefault("execution.region", "")
	v.SetDefault("aws.profile", "")
}

// splitList accepts both proper lists and a single comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
