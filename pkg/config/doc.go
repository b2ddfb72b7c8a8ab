// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for everything except secrets and connection strings.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANTGATE_HOST="0.0.0.0"
//	TENANTGATE_PORT="8080"
//	TENANTGATE_HEALTH_PORT="9090"
//	TENANTGATE_TRUST_PROXY="false"  # honour X-Forwarded-For
//	TENANTGATE_ENV="production"     # Secure session cookies
//
// Session and identity authority:
//
//	TENANTGATE_SESSION_SEAL_KEY="<64 hex chars>"
//	TENANTGATE_OIDC_ISSUER_URL="https://idp.example.com"
//	TENANTGATE_OIDC_CLIENT_ID="..."
//	TENANTGATE_OIDC_CLIENT_SECRET="..."
//	TENANTGATE_OIDC_REDIRECT_URL="https://app.example.com/auth/callback"
//	TENANTGATE_NATIVE_REDIRECT_URIS="addie://auth/callback"
//
// Access control and links:
//
//	TENANTGATE_ADMIN_EMAILS="root@example.com,ops@example.com"
//	TENANTGATE_LOGIN_URL="/auth/login"
//	TENANTGATE_PRICING_URL="/pricing"
//
// Storage and rate limiting:
//
//	TENANTGATE_POSTGRES_URL="postgres://localhost/tenantgate"
//	TENANTGATE_REDIS_URL="localhost:6379"
//	TENANTGATE_RATE_LIMIT_BACKEND="redis"  # memory, redis
//	TENANTGATE_RATE_LIMIT_FILE="/etc/tenantgate/ratelimits.yaml"
//
// Observability settings:
//
//	TENANTGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTGATE_METRICS_ENABLED="true"
//	TENANTGATE_OTEL_ENABLED="true"
//	TENANTGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
