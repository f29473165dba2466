package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	Scheduler SchedulerConfig
	AMQP      AMQPConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port string
}

// DBConfig holds Postgres connection configuration
type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// JWTConfig holds JWT-specific configuration
type JWTConfig struct {
	Secret    string
	ExpiresIn int
}

// GatewayConfig holds SMS gateway-specific configuration
type GatewayConfig struct {
	TokenURL     string
	SendURL      string
	AccountURL   string
	ClientID     string
	ClientSecret string
	SenderID     string
	Simulate     bool
	Timeout      time.Duration
}

// SchedulerConfig holds scheduler-loop configuration
type SchedulerConfig struct {
	Interval time.Duration
}

// AMQPConfig holds broker configuration for lifecycle events
type AMQPConfig struct {
	URL string
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()
	bindEnv()

	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file is not found, we'll use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("Server.Port", "8080")
	viper.SetDefault("DB.Host", "localhost")
	viper.SetDefault("DB.Port", "5432")
	viper.SetDefault("DB.Name", "sms_marketing")
	viper.SetDefault("JWT.ExpiresIn", 24*60*60) // 24 hours
	viper.SetDefault("Gateway.Simulate", true)
	viper.SetDefault("Gateway.Timeout", 30*time.Second)
	viper.SetDefault("Scheduler.Interval", time.Minute)
}

// bindEnv maps flat environment variables onto nested config keys
func bindEnv() {
	viper.BindEnv("Server.Port", "PORT")
	viper.BindEnv("DB.User", "DB_USER")
	viper.BindEnv("DB.Password", "DB_PASSWORD")
	viper.BindEnv("DB.Host", "DB_HOST")
	viper.BindEnv("DB.Port", "DB_PORT")
	viper.BindEnv("DB.Name", "DB_NAME")
	viper.BindEnv("JWT.Secret", "JWT_SECRET")
	viper.BindEnv("Gateway.TokenURL", "GATEWAY_TOKEN_URL")
	viper.BindEnv("Gateway.SendURL", "GATEWAY_SEND_URL")
	viper.BindEnv("Gateway.AccountURL", "GATEWAY_ACCOUNT_URL")
	viper.BindEnv("Gateway.ClientID", "GATEWAY_CLIENT_ID")
	viper.BindEnv("Gateway.ClientSecret", "GATEWAY_CLIENT_SECRET")
	viper.BindEnv("Gateway.SenderID", "GATEWAY_SENDER_ID")
	viper.BindEnv("Gateway.Simulate", "GATEWAY_SIMULATE")
	viper.BindEnv("Scheduler.Interval", "SCHEDULER_INTERVAL")
	viper.BindEnv("AMQP.URL", "AMQP_URL")
}
