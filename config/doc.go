// Package config loads service configuration from config.yml, .env files
// and environment variables using Viper.
//
// # Usage
//
//	cfg, err := config.Load[config.ServiceConfig]("flowdemo")
//
// Environment variables override file values. PIPELINE_BATCH_SIZE=50 sets
// pipeline.batch_size; no prefix is required.
package config
