// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv for .env files and
// github.com/caarlos0/env/v11 for tag-driven parsing:
//
//	config.MustLoadEnv() // optional ./.env
//
//	var cfg lifecycle.Config
//	if err := config.Load(&cfg); err != nil {
//	    log.Fatal(err)
//	}
//
//	var stripe payment.StripeConfig
//	config.MustLoad(&stripe, config.WithPrefix("STRIPE_"))
//
// Structs implementing Validator are validated after parsing; a failure is
// returned joined with ErrInvalidConfig. There is no package-level cache, so
// every call reads the current environment.
package config
