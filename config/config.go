package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"database"`
	Redis struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Engine struct {
		MaxAttempts     int `mapstructure:"max_attempts"`
		RetryBackoffMs  int `mapstructure:"retry_backoff_ms"`
		CacheTTLMinutes int `mapstructure:"cache_ttl_minutes"`
	} `mapstructure:"engine"`
}

var AppConfig Config

func LoadConfig(path string) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yml")

	viper.AutomaticEnv()

	viper.SetDefault("engine.max_attempts", 8)
	viper.SetDefault("engine.retry_backoff_ms", 25)
	viper.SetDefault("engine.cache_ttl_minutes", 10)

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
}
