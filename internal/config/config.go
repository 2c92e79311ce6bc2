/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * Policy amounts (fee thresholds, share unit price) are stored in paise; the
 * loader also accepts rupee-denominated aliases and converts them.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payments-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	PaymentEventExchange string `mapstructure:"PAYMENT_EVENT_EXCHANGE"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	MemberJWKSURL        string `mapstructure:"MEMBER_JWKS_URL"`

	// AuthAudience and AuthIssuer, when set, are enforced against the
	// corresponding registered claims of every bearer token.
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`

	SocietyName  string `mapstructure:"SOCIETY_NAME"`
	SocietyRegNo string `mapstructure:"SOCIETY_REG_NO"`

	// UPIPayeeVPA is the society's fixed collection address embedded in
	// generated deep links; it is configuration, never user input.
	UPIPayeeVPA  string `mapstructure:"UPI_PAYEE_VPA"`
	UPIPayeeName string `mapstructure:"UPI_PAYEE_NAME"`

	PaymentExpiryMinutes int    `mapstructure:"PAYMENT_EXPIRY_MINUTES"`
	ExpirySweepSchedule  string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`

	EntryFeePaise     int64 `mapstructure:"ENTRY_FEE_PAISE"`
	WelfareFundPaise  int64 `mapstructure:"WELFARE_FUND_PAISE"`
	BuildingFundPaise int64 `mapstructure:"BUILDING_FUND_PAISE"`
	SharePricePaise   int64 `mapstructure:"SHARE_PRICE_PAISE"`

	GenerateRateLimitPerMinute int `mapstructure:"GENERATE_RATE_LIMIT_PER_MINUTE"`
	ConfirmRateLimitPerMinute  int `mapstructure:"CONFIRM_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PAYMENT_EVENT_EXCHANGE", "society.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "sahyog:rate_limit")
	viper.SetDefault("SOCIETY_NAME", "Sahyog Cooperative Society")
	viper.SetDefault("SOCIETY_REG_NO", "")
	viper.SetDefault("UPI_PAYEE_NAME", "Sahyog Cooperative Society")
	viper.SetDefault("PAYMENT_EXPIRY_MINUTES", 30)
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "* * * * *")
	viper.SetDefault("ENTRY_FEE_PAISE", 20000)
	viper.SetDefault("WELFARE_FUND_PAISE", 40000)
	viper.SetDefault("BUILDING_FUND_PAISE", 240000)
	viper.SetDefault("SHARE_PRICE_PAISE", 10000)
	viper.SetDefault("GENERATE_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("CONFIRM_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("MEMBER_JWKS_URL")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("SOCIETY_NAME")
	_ = viper.BindEnv("SOCIETY_REG_NO")
	_ = viper.BindEnv("UPI_PAYEE_VPA")
	_ = viper.BindEnv("UPI_PAYEE_NAME")
	_ = viper.BindEnv("PAYMENT_EXPIRY_MINUTES")
	_ = viper.BindEnv("EXPIRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("ENTRY_FEE_PAISE")
	_ = viper.BindEnv("ENTRY_FEE_RUPEES")
	_ = viper.BindEnv("WELFARE_FUND_PAISE")
	_ = viper.BindEnv("WELFARE_FUND_RUPEES")
	_ = viper.BindEnv("BUILDING_FUND_PAISE")
	_ = viper.BindEnv("BUILDING_FUND_RUPEES")
	_ = viper.BindEnv("SHARE_PRICE_PAISE")
	_ = viper.BindEnv("SHARE_PRICE_RUPEES")
	_ = viper.BindEnv("GENERATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CONFIRM_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.UPIPayeeVPA = strings.TrimSpace(config.UPIPayeeVPA)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "sahyog:rate_limit"
	}

	// Allow specifying policy amounts in whole rupees via the _RUPEES aliases.
	config.EntryFeePaise = rupeeAliasPaise("ENTRY_FEE_RUPEES", config.EntryFeePaise)
	config.WelfareFundPaise = rupeeAliasPaise("WELFARE_FUND_RUPEES", config.WelfareFundPaise)
	config.BuildingFundPaise = rupeeAliasPaise("BUILDING_FUND_RUPEES", config.BuildingFundPaise)
	config.SharePricePaise = rupeeAliasPaise("SHARE_PRICE_RUPEES", config.SharePricePaise)

	if config.PaymentExpiryMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive payment expiry configured; using 30 minutes\" minutes=%d", config.PaymentExpiryMinutes)
		config.PaymentExpiryMinutes = 30
	}
	if config.EntryFeePaise <= 0 {
		config.EntryFeePaise = 20000
	}
	if config.WelfareFundPaise <= 0 {
		config.WelfareFundPaise = 40000
	}
	if config.BuildingFundPaise <= 0 {
		config.BuildingFundPaise = 240000
	}
	if config.SharePricePaise <= 0 {
		config.SharePricePaise = 10000
	}
	if config.GenerateRateLimitPerMinute < 0 {
		config.GenerateRateLimitPerMinute = 0
	}
	if config.ConfirmRateLimitPerMinute < 0 {
		config.ConfirmRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.ExpirySweepSchedule) == "" {
		config.ExpirySweepSchedule = "* * * * *"
	}

	return
}

func rupeeAliasPaise(envKey string, current int64) int64 {
	if !viper.IsSet(envKey) {
		return current
	}
	raw := strings.TrimSpace(viper.GetString(envKey))
	if raw == "" {
		return current
	}
	value, parseErr := strconv.ParseFloat(raw, 64)
	if parseErr != nil {
		log.Printf("level=warn component=config msg=\"invalid rupee amount\" env=%s value=%q err=%v", envKey, raw, parseErr)
		return current
	}
	return int64(math.Round(value * 100))
}
