package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/channel"
	"github.com/huntred/flowbot/internal/engine"
	"github.com/huntred/flowbot/internal/logger"
)

const (
	app       = "flowbot"
	envPrefix = "FLOWBOT"
)

type Config struct {
	Flow     FlowConfig     `mapstructure:"flow"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Intent   IntentConfig   `mapstructure:"intent"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type FlowConfig struct {
	File         string   `mapstructure:"file"`
	MenuKeywords []string `mapstructure:"menu-keywords"`
}

type JobsConfig struct {
	File string `mapstructure:"file"`
	TopN int    `mapstructure:"top-n"`
}

type StorageConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	PasswordFile string `mapstructure:"password-file"`
	DB           int    `mapstructure:"db"`
	Prefix       string `mapstructure:"prefix"`
}

type EngineConfig struct {
	TurnTimeout time.Duration `mapstructure:"turn-timeout"`
}

type IntentConfig struct {
	Provider string       `mapstructure:"provider"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type TelegramConfig struct {
	TokenFile          string `mapstructure:"token-file"`
	MaxConcurrentTurns int    `mapstructure:"max-concurrent-turns"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "flowbot runs huntRED recruiting conversations over chat channels",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is flowbot.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

// setDefaults registers every key so env overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("flow.file", "flow.yaml")
	v.SetDefault("flow.menu-keywords", engine.DefaultMenuKeywords)
	v.SetDefault("jobs.file", "jobs.yaml")
	v.SetDefault("jobs.top-n", engine.DefaultTopN)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password-file", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "flowbot:")
	v.SetDefault("engine.turn-timeout", engine.DefaultTurnTimeout)
	v.SetDefault("intent.provider", "rules")
	v.SetDefault("intent.gemini.api-key-file", "")
	v.SetDefault("intent.gemini.model", "gemini-2.5-flash")
	v.SetDefault("intent.gemini.max-retries", 3)
	v.SetDefault("intent.gemini.max-log-length", 500)
	v.SetDefault("telegram.token-file", "")
	v.SetDefault("telegram.max-concurrent-turns", channel.DefaultMaxConcurrentTurns)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

func initConfig() {
	if versionCmd.CalledAs() != "" {
		return
	}

	// A .env next to the binary is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// Without a config file the defaults and env still apply; a broken one is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

// setup builds the logger and reads the config shared by every command.
func setup(command string, logOutputs ...string) (*zap.Logger, *Config) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"), logOutputs...)
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	logger.Info("starting the "+app, zap.String("command", command), zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return logger, config
}
