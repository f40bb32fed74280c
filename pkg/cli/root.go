package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/email-sender/pkg/config"
	"github.com/telekom/email-sender/pkg/email"
	"github.com/telekom/email-sender/pkg/queue"
	"github.com/telekom/email-sender/pkg/system"
)

// Enqueuer publishes send requests. *queue.Producer implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req email.SendRequest) error
	Close() error
}

type Config struct {
	ConfigPath   string
	EnvFile      string
	Debug        bool
	OutputWriter io.Writer
	// OpenQueue creates the producer used by the api, serve and enqueue commands.
	OpenQueue func(cfg config.Config, log *zap.SugaredLogger) (Enqueuer, error)
}

type runtimeState struct {
	configPath string
	envFile    string
	debug      bool
	writer     io.Writer
	openQueue  func(cfg config.Config, log *zap.SugaredLogger) (Enqueuer, error)

	cfg    config.Config
	logger *zap.Logger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		EnvFile:      getEnvString("EMAIL_SENDER_ENV_FILE", ".env"),
		Debug:        getEnvBool("EMAIL_SENDER_DEBUG", false),
		OutputWriter: os.Stdout,
		OpenQueue:    openProducer,
	}
}

func openProducer(cfg config.Config, log *zap.SugaredLogger) (Enqueuer, error) {
	kafkaCfg, err := cfg.QueueConfig()
	if err != nil {
		return nil, err
	}
	return queue.NewProducer(kafkaCfg, log)
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		envFile:    cfg.EnvFile,
		debug:      cfg.Debug,
		writer:     cfg.OutputWriter,
		openQueue:  cfg.OpenQueue,
	}
	if rt.openQueue == nil {
		rt.openQueue = openProducer
	}

	root := &cobra.Command{
		Use:           "email-sender",
		Short:         "Asynchronous email delivery over Kafka",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			if err := loadEnvFile(rt.envFile); err != nil {
				return err
			}

			logger, err := system.NewLogger(rt.debug)
			if err != nil {
				return err
			}
			rt.logger = logger

			c, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			if err := c.ValidateFor(rolesOf(cmd)); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			rt.cfg = c
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath,
		"Path to config file (default $"+config.ConfigPathEnv+" or "+config.DefaultConfigPath+")")
	root.PersistentFlags().StringVar(&rt.envFile, "env-file", rt.envFile, "Optional dotenv file loaded before the configuration")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", rt.debug, "Enable debug level logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewServeCommand(),
		NewWorkerCommand(),
		NewAPICommand(),
		NewEnqueueCommand(),
		NewVersionCommand(),
	)

	return root
}

// rolesAnnotation marks which configuration roles a command needs.
const rolesAnnotation = "email-sender/roles"

func rolesOf(cmd *cobra.Command) config.Role {
	var roles config.Role
	for _, r := range strings.Split(cmd.Annotations[rolesAnnotation], ",") {
		switch r {
		case "intake":
			roles |= config.RoleIntake
		case "worker":
			roles |= config.RoleWorker
		}
	}
	return roles
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer == nil {
		return os.Stdout
	}
	return rt.writer
}

func (rt *runtimeState) Log() *zap.SugaredLogger {
	if rt.logger == nil {
		return zap.NewNop().Sugar()
	}
	return rt.logger.Sugar()
}

// loadEnvFile exports the variables of a dotenv file without overriding ones
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
