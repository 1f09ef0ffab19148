// Package config loads the flat settings record from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config carries every knob the service reads. All fields resolve from env;
// the deploy/mass-recalc arguments additionally fall back to interactive
// stdin prompts when unset (see the deploy and mass_recalc components).
type Config struct {
	AppComponent string

	APIHost string
	APIPort int

	DatabaseHost        string
	DatabasePort        int
	DatabaseUsername    string
	DatabasePassword    string
	DatabaseName        string
	DatabasePoolMaxSize int

	AMQPHost     string
	AMQPPort     int
	AMQPUsername string
	AMQPPassword string

	RedisHost     string
	RedisPort     int
	RedisUsername string
	RedisPassword string
	RedisDatabase int
	RedisUseSSL   bool

	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSBucketName      string
	AWSEndpointURL     string
	AWSRegion          string

	BeatmapsServiceBaseURL string
}

// Load reads the full configuration, failing on any missing required value.
func Load() (*Config, error) {
	var errs []string

	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			errs = append(errs, key+" is not set")
		}
		return v
	}
	requiredInt := func(key string) int {
		v := required(key)
		if v == "" {
			return 0
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, key+" is not an integer")
		}
		return n
	}
	optionalInt := func(key string, fallback int) int {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, key+" is not an integer")
		}
		return n
	}

	cfg := &Config{
		AppComponent: required("APP_COMPONENT"),

		APIHost: getenvDefault("API_HOST", "0.0.0.0"),
		APIPort: optionalInt("API_PORT", 80),

		DatabaseHost:        required("DATABASE_HOST"),
		DatabasePort:        requiredInt("DATABASE_PORT"),
		DatabaseUsername:    required("DATABASE_USERNAME"),
		DatabasePassword:    required("DATABASE_PASSWORD"),
		DatabaseName:        required("DATABASE_NAME"),
		DatabasePoolMaxSize: optionalInt("DATABASE_POOL_MAX_SIZE", 10),

		AMQPHost:     required("AMQP_HOST"),
		AMQPPort:     requiredInt("AMQP_PORT"),
		AMQPUsername: required("AMQP_USERNAME"),
		AMQPPassword: required("AMQP_PASSWORD"),

		RedisHost:     required("REDIS_HOST"),
		RedisPort:     requiredInt("REDIS_PORT"),
		RedisUsername: os.Getenv("REDIS_USERNAME"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDatabase: optionalInt("REDIS_DATABASE", 0),
		RedisUseSSL:   os.Getenv("REDIS_USE_SSL") == "1",

		AWSAccessKeyID:     required("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: required("AWS_SECRET_ACCESS_KEY"),
		AWSBucketName:      required("AWS_BUCKET_NAME"),
		AWSEndpointURL:     required("AWS_ENDPOINT_URL"),
		AWSRegion:          required("AWS_REGION"),

		BeatmapsServiceBaseURL: required("BEATMAPS_SERVICE_BASE_URL"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.DatabaseUsername, c.DatabasePassword, c.DatabaseHost, c.DatabasePort, c.DatabaseName)
}

func (c *Config) AMQPDSN() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d",
		c.AMQPUsername, c.AMQPPassword, c.AMQPHost, c.AMQPPort)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// IntList parses a comma delimited integer list, e.g. DEPLOY_MODES="0,1".
func IntList(raw string) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer list element %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
