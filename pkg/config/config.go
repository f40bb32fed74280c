package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"

	"github.com/telekom/email-sender/pkg/attachment"
	"github.com/telekom/email-sender/pkg/mail"
	"github.com/telekom/email-sender/pkg/queue"
)

// ConfigPathEnv names the environment variable that overrides the config file location.
const ConfigPathEnv = "EMAIL_SENDER_CONFIG_PATH"

// DefaultConfigPath is used when neither a flag nor ConfigPathEnv is set.
const DefaultConfigPath = "./config.yaml"

type Server struct {
	ListenAddress  string   `yaml:"listenAddress" env:"EMAIL_SENDER_LISTEN_ADDRESS"`
	TLSCertFile    string   `yaml:"tlsCertFile" env:"EMAIL_SENDER_TLS_CERT_FILE"`
	TLSKeyFile     string   `yaml:"tlsKeyFile" env:"EMAIL_SENDER_TLS_KEY_FILE"`
	TrustedProxies []string `yaml:"trustedProxies" env:"EMAIL_SENDER_TRUSTED_PROXIES"` // IPs/CIDRs to trust for X-Forwarded-For headers
	// ShutdownTimeout bounds draining of in-flight HTTP requests.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"EMAIL_SENDER_SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimit     `yaml:"rateLimit"`
}

// RateLimit is the per-client-IP budget of the intake endpoint. A zero rate disables it.
type RateLimit struct {
	Rate  float64 `yaml:"rate" env:"EMAIL_SENDER_RATE_LIMIT"`
	Burst int     `yaml:"burst" env:"EMAIL_SENDER_RATE_BURST"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled" env:"EMAIL_SENDER_KAFKA_TLS_ENABLED"`
	CAFile             string `yaml:"caFile" env:"EMAIL_SENDER_KAFKA_TLS_CA_FILE"`
	CertFile           string `yaml:"certFile" env:"EMAIL_SENDER_KAFKA_TLS_CERT_FILE"`
	KeyFile            string `yaml:"keyFile" env:"EMAIL_SENDER_KAFKA_TLS_KEY_FILE"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify" env:"EMAIL_SENDER_KAFKA_TLS_INSECURE_SKIP_VERIFY"`
}

type KafkaSASL struct {
	// Mechanism is one of PLAIN, SCRAM-SHA-256, SCRAM-SHA-512. Empty disables SASL.
	Mechanism string `yaml:"mechanism" env:"EMAIL_SENDER_KAFKA_SASL_MECHANISM"`
	Username  string `yaml:"username" env:"EMAIL_SENDER_KAFKA_SASL_USERNAME"`
	Password  string `yaml:"password" env:"EMAIL_SENDER_KAFKA_SASL_PASSWORD"`
}

type Kafka struct {
	Brokers      []string      `yaml:"brokers" env:"EMAIL_SENDER_KAFKA_BROKERS"`
	Topic        string        `yaml:"topic" env:"EMAIL_SENDER_KAFKA_TOPIC"`
	GroupID      string        `yaml:"groupID" env:"EMAIL_SENDER_KAFKA_GROUP_ID"`
	TLS          KafkaTLS      `yaml:"tls"`
	SASL         KafkaSASL     `yaml:"sasl"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"EMAIL_SENDER_KAFKA_WRITE_TIMEOUT"`
	DialTimeout  time.Duration `yaml:"dialTimeout" env:"EMAIL_SENDER_KAFKA_DIAL_TIMEOUT"`
	RequiredAcks int           `yaml:"requiredAcks" env:"EMAIL_SENDER_KAFKA_REQUIRED_ACKS"`
	Compression  string        `yaml:"compression" env:"EMAIL_SENDER_KAFKA_COMPRESSION"`
}

type Consumer struct {
	// RetryBackoff is the fixed wait between delivery attempts of one message.
	RetryBackoff time.Duration `yaml:"retryBackoff" env:"EMAIL_SENDER_RETRY_BACKOFF"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"maxRetries" env:"EMAIL_SENDER_MAX_RETRIES"`
}

type SMTP struct {
	Host               string        `yaml:"host" env:"EMAIL_SENDER_SMTP_HOST"`
	Port               int           `yaml:"port" env:"EMAIL_SENDER_SMTP_PORT"`
	Username           string        `yaml:"username" env:"EMAIL_SENDER_SMTP_USERNAME"`
	Password           string        `yaml:"password" env:"EMAIL_SENDER_SMTP_PASSWORD"`
	SSL                bool          `yaml:"ssl" env:"EMAIL_SENDER_SMTP_SSL"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify" env:"EMAIL_SENDER_SMTP_INSECURE_SKIP_VERIFY"`
	LocalName          string        `yaml:"localName" env:"EMAIL_SENDER_SMTP_LOCAL_NAME"`
	Timeout            time.Duration `yaml:"timeout" env:"EMAIL_SENDER_SMTP_TIMEOUT"`
}

type Attachments struct {
	FetchTimeout  time.Duration `yaml:"fetchTimeout" env:"EMAIL_SENDER_ATTACHMENT_FETCH_TIMEOUT"`
	MaxBytes      int64         `yaml:"maxBytes" env:"EMAIL_SENDER_ATTACHMENT_MAX_BYTES"`
	AllowFileURLs bool          `yaml:"allowFileURLs" env:"EMAIL_SENDER_ATTACHMENT_ALLOW_FILE_URLS"`
}

type Config struct {
	Server      Server      `yaml:"server"`
	Kafka       Kafka       `yaml:"kafka"`
	Consumer    Consumer    `yaml:"consumer"`
	SMTP        SMTP        `yaml:"smtp"`
	Attachments Attachments `yaml:"attachments"`
}

// Default returns the configuration used for every key the file and the
// environment leave unset.
func Default() Config {
	return Config{
		Server: Server{
			ListenAddress:   ":8080",
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       RateLimit{Rate: 20, Burst: 50},
		},
		Kafka: Kafka{
			Topic:        "emails",
			GroupID:      "email-sender",
			WriteTimeout: 10 * time.Second,
			DialTimeout:  10 * time.Second,
			RequiredAcks: -1,
			Compression:  "snappy",
		},
		Consumer: Consumer{
			RetryBackoff: 10 * time.Second,
			MaxRetries:   3,
		},
		SMTP: SMTP{
			Port:    25,
			Timeout: 30 * time.Second,
		},
		Attachments: Attachments{
			FetchTimeout: 30 * time.Second,
			MaxBytes:     25 << 20,
		},
	}
}

// ResolvePath picks the config file location: explicit path, then
// EMAIL_SENDER_CONFIG_PATH, then DefaultConfigPath.
func ResolvePath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load loads the email-sender configuration from a file path, layered on top
// of Default() and overridden by EMAIL_SENDER_* environment variables.
// If configPath is empty, ResolvePath decides. A missing file is only an
// error when the path was given explicitly.
func Load(configPath ...string) (Config, error) {
	var explicit string
	if len(configPath) > 0 {
		explicit = configPath[0]
	}
	path := ResolvePath(explicit)
	config := Default()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath:
		// running purely from environment
	default:
		return config, fmt.Errorf("trying to open email-sender config file %s: %w", path, err)
	}

	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("error reading environment overrides: %w", err)
	}
	return config, nil
}

// Role selects which parts of the configuration a command depends on.
type Role int

const (
	// RoleIntake publishes requests: the HTTP server and the enqueue command.
	RoleIntake Role = 1 << iota
	// RoleWorker consumes the queue and delivers mail.
	RoleWorker
)

// Validate checks the configuration for a process running every role.
func (c Config) Validate() error {
	return c.ValidateFor(RoleIntake | RoleWorker)
}

// ValidateFor returns every setting that would prevent the given roles from
// running, joined into one error.
func (c Config) ValidateFor(roles Role) error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers must list at least one broker"))
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required"))
	}
	if a := c.Kafka.RequiredAcks; a < -1 || a > 1 {
		errs = append(errs, fmt.Errorf("kafka.requiredAcks must be -1, 0 or 1, got %d", a))
	}

	if roles&RoleIntake != 0 {
		if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
			errs = append(errs, errors.New("server.tlsCertFile and server.tlsKeyFile must be set together"))
		}
		if c.Server.RateLimit.Rate < 0 {
			errs = append(errs, fmt.Errorf("server.rateLimit.rate must not be negative, got %g", c.Server.RateLimit.Rate))
		}
	}

	if roles&RoleWorker != 0 {
		if c.Kafka.GroupID == "" {
			errs = append(errs, errors.New("kafka.groupID is required"))
		}
		if c.Consumer.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("consumer.maxRetries must be >= 0, got %d", c.Consumer.MaxRetries))
		}
		if c.Consumer.RetryBackoff <= 0 {
			errs = append(errs, fmt.Errorf("consumer.retryBackoff must be positive, got %s", c.Consumer.RetryBackoff))
		}
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("smtp.host is required"))
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("smtp.port out of range: %d", c.SMTP.Port))
		}
		if c.SMTP.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("smtp.timeout must be positive, got %s", c.SMTP.Timeout))
		}
		if c.Attachments.FetchTimeout <= 0 {
			errs = append(errs, fmt.Errorf("attachments.fetchTimeout must be positive, got %s", c.Attachments.FetchTimeout))
		}
		if c.Attachments.MaxBytes <= 0 {
			errs = append(errs, fmt.Errorf("attachments.maxBytes must be positive, got %d", c.Attachments.MaxBytes))
		}
	}
	return errors.Join(errs...)
}

// QueueConfig builds the Kafka settings, reading any TLS material from disk.
func (c Config) QueueConfig() (queue.KafkaConfig, error) {
	k := c.Kafka
	cfg := queue.KafkaConfig{
		Brokers:          k.Brokers,
		Topic:            k.Topic,
		GroupID:          k.GroupID,
		WriteTimeout:     k.WriteTimeout,
		DialTimeout:      k.DialTimeout,
		RequiredAcks:     &k.RequiredAcks,
		CompressionCodec: k.Compression,
	}

	if k.TLS.Enabled {
		tlsCfg := &queue.KafkaTLSConfig{
			Enabled:            true,
			InsecureSkipVerify: k.TLS.InsecureSkipVerify,
		}
		for _, f := range []struct {
			path string
			dst  *[]byte
		}{
			{k.TLS.CAFile, &tlsCfg.CACert},
			{k.TLS.CertFile, &tlsCfg.ClientCert},
			{k.TLS.KeyFile, &tlsCfg.ClientKey},
		} {
			if f.path == "" {
				continue
			}
			data, err := os.ReadFile(f.path)
			if err != nil {
				return queue.KafkaConfig{}, fmt.Errorf("reading Kafka TLS file %s: %w", f.path, err)
			}
			*f.dst = data
		}
		cfg.TLS = tlsCfg
	}

	if k.SASL.Mechanism != "" {
		cfg.SASL = &queue.KafkaSASLConfig{
			Mechanism: k.SASL.Mechanism,
			Username:  k.SASL.Username,
			Password:  k.SASL.Password,
		}
	}
	return cfg, nil
}

func (c Config) RetryPolicy() queue.RetryPolicy {
	return queue.RetryPolicy{
		MaxRetries: c.Consumer.MaxRetries,
		Backoff:    c.Consumer.RetryBackoff,
	}
}

func (c Config) SMTPConfig() mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:               c.SMTP.Host,
		Port:               c.SMTP.Port,
		Username:           c.SMTP.Username,
		Password:           c.SMTP.Password,
		SSL:                c.SMTP.SSL,
		InsecureSkipVerify: c.SMTP.InsecureSkipVerify,
		LocalName:          c.SMTP.LocalName,
		Timeout:            c.SMTP.Timeout,
	}
}

func (c Config) AttachmentConfig() attachment.Config {
	return attachment.Config{
		Timeout:       c.Attachments.FetchTimeout,
		MaxBytes:      c.Attachments.MaxBytes,
		AllowFileURLs: c.Attachments.AllowFileURLs,
	}
}
