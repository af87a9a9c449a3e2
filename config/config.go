package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gidra39/modelselect/validation"
)

var ErrFileNotFound = errors.New("file not found")

// Message channel selectors.
const (
	ChannelTelegram = "TELEGRAM"
	ChannelSlack    = "SLACK"
	ChannelBoth     = "BOTH"
	ChannelNone     = "NONE"
)

// Config contains all application configuration settings
type Config struct {
	LogLevel  string `json:"LOG_LEVEL" koanf:"LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat string `json:"LOG_FORMAT" koanf:"LOG_FORMAT" validate:"omitempty,oneof=json console"`

	// model selection
	OutputDir     string  `json:"OUTPUT_DIR" koanf:"OUTPUT_DIR" validate:"required"`
	NTrials       int     `json:"N_TRIALS" koanf:"N_TRIALS" validate:"gt=0"`
	CVFolds       int     `json:"CV_FOLDS" koanf:"CV_FOLDS" validate:"gte=2"`
	TestSize      float64 `json:"TEST_SIZE" koanf:"TEST_SIZE" validate:"gt=0,lt=1"`
	RandomSeed    int64   `json:"RANDOM_SEED" koanf:"RANDOM_SEED"`
	StartupTrials int     `json:"STARTUP_TRIALS" koanf:"STARTUP_TRIALS" validate:"gte=0"`
	Sampler       string  `json:"SAMPLER" koanf:"SAMPLER" validate:"oneof=tpe random"`

	// queue
	NATSURL      string `json:"NATS_URL" koanf:"NATS_URL"`
	RequestTopic string `json:"REQUEST_TOPIC" koanf:"REQUEST_TOPIC" validate:"required"`
	ResultTopic  string `json:"RESULT_TOPIC" koanf:"RESULT_TOPIC" validate:"required"`
	PoisonTopic  string `json:"POISON_TOPIC" koanf:"POISON_TOPIC" validate:"required"`
	QueueGroup   string `json:"QUEUE_GROUP" koanf:"QUEUE_GROUP"`
	RetryCount   int    `json:"RETRY_COUNT" koanf:"RETRY_COUNT" validate:"gte=0"`

	// object storage
	S3BucketName string `json:"S3_BUCKET_NAME" koanf:"S3_BUCKET_NAME" validate:"required_with=NATSURL"`
	AWSRegion    string `json:"AWS_REGION" koanf:"AWS_REGION"`
	S3Endpoint   string `json:"S3_ENDPOINT" koanf:"S3_ENDPOINT"`
	S3PublicRead bool   `json:"S3_PUBLIC_READ" koanf:"S3_PUBLIC_READ"`

	HTTPAddr     string `json:"HTTP_ADDR" koanf:"HTTP_ADDR"`
	APIRateLimit int    `json:"API_RATE_LIMIT" koanf:"API_RATE_LIMIT" validate:"gte=0"`
	RunstoreDir  string `json:"RUNSTORE_DIR" koanf:"RUNSTORE_DIR"`

	MLflowTrackingURI  string `json:"MLFLOW_TRACKING_URI" koanf:"MLFLOW_TRACKING_URI"`
	MLflowExperimentID string `json:"MLFLOW_EXPERIMENT_ID" koanf:"MLFLOW_EXPERIMENT_ID"`

	TelegramAPIURL   string `json:"TELEGRAM_API_URL" koanf:"TELEGRAM_API_URL" validate:"omitempty,url"`
	TelegramBotToken string `json:"TELEGRAM_BOT_TOKEN" koanf:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `json:"TELEGRAM_CHAT_ID" koanf:"TELEGRAM_CHAT_ID"`
	SlackWebhookURL  string `json:"SLACK_WEBHOOK_URL" koanf:"SLACK_WEBHOOK_URL"`
	MessageChannels  string `json:"MESSAGE_CHANNELS" koanf:"MESSAGE_CHANNELS" validate:"oneof=TELEGRAM SLACK BOTH NONE"`
}

// Defaults mirror the original service: 50 trials, 5 folds, 80/20 split, seed 42.
func Defaults() Config {
	return Config{
		LogLevel:        "info",
		LogFormat:       "json",
		OutputDir:       "files",
		NTrials:         50,
		CVFolds:         5,
		TestSize:        0.2,
		RandomSeed:      42,
		StartupTrials:   10,
		Sampler:         "tpe",
		RequestTopic:    "CLASSICAL_TRAINING_REQUEST_QUEUE",
		ResultTopic:     "CLASSICAL_TRAINING_RESULT_QUEUE",
		PoisonTopic:     "CLASSICAL_TRAINING_POISON_QUEUE",
		QueueGroup:      "classical-modeling",
		RetryCount:      3,
		AWSRegion:       "us-east-1",
		HTTPAddr:        ":8000",
		APIRateLimit:    10,
		RunstoreDir:     "runs",
		TelegramAPIURL:  "https://api.telegram.org",
		MessageChannels: ChannelNone,
	}
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	}
	return json.Parser()
}

// Load layers defaults, the optional config file and the environment, in
// increasing priority.
func Load(configFile string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "koanf: loading defaults")
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), parserFor(configFile)); err != nil {
			log.Warn().Err(err).Str("file", configFile).Msg("unable to load config file")
		} else {
			log.Info().Str("file", configFile).Msg("loaded configuration from file")
		}
	}

	// Load from environment variables (higher priority)
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return Config{}, errors.Wrap(err, "koanf: loading env")
	}

	config := Config{}
	if err := k.Unmarshal("", &config); err != nil {
		return Config{}, errors.Wrap(err, "koanf: unmarshalling config")
	}
	config.MessageChannels = strings.ToUpper(config.MessageChannels)

	if err := validation.Struct(config); err != nil {
		return Config{}, errors.Wrap(err, "koanf: validating config")
	}
	return config, nil
}

func SearchUpwardsForFile(filename string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		file := filepath.Join(wd, filename)
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}

		parent := filepath.Dir(wd)
		if parent == wd {
			return "", errors.Wrap(ErrFileNotFound, filename)
		}
		wd = parent
	}
}

func LoadDotEnv(fileName string) {
	file, err := SearchUpwardsForFile(fileName)
	if err != nil {
		log.Debug().Err(err).Msgf("no %s file", fileName)
		return
	}

	if err := godotenv.Load(file); err != nil {
		log.Fatal().Err(err).Msg("invalid .env file")
	}

	log.Info().Msgf("loaded environment variables from %s", file)
}

// LoadConfig is the main entry point for configuration loading
func LoadConfig(envFile string, configFiles ...string) Config {
	if envFile != "" {
		LoadDotEnv(envFile)
	}

	path := ""
	for _, configFile := range configFiles {
		if found, err := SearchUpwardsForFile(configFile); err == nil {
			path = found
			break
		}
	}

	config, err := Load(path)
	if err != nil {
		log.Fatal().Err(err).Caller().Msg("invalid configuration")
	}
	return config
}
