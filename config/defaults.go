package config

import (
	"strconv"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.workers", 1)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.name", "cyclone")
	v.SetDefault("server.max_header_size", "8KiB")
	v.SetDefault("server.max_body_size", "10MiB")
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "75s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("middleware", []string{"request_id", "logger", "cors", "security"})

	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("cors.allow_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allow_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("cors.expose_headers", []string{})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", "24h")

	v.SetDefault("rate_limit.rate", 100)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("rate_limit.idle_ttl", "10m")

	v.SetDefault("compression.min_size", "1KiB")
	v.SetDefault("compression.level", 6)
	v.SetDefault("compression.content_types", []string{"text/", "application/json", "application/javascript", "application/xml"})

	v.SetDefault("auth.tokens", []string{})
	v.SetDefault("auth.exclude_paths", []string{"/health"})
	v.SetDefault("auth.realm", "cyclone")

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.path", "")
	v.SetDefault("store.timeout", "5s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func itoa(n int) string { return strconv.Itoa(n) }
