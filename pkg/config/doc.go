// Package config loads the REST service configuration from APPMESH_*
// environment variables.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Groups:
//
//   - Server: APPMESH_HOST, APPMESH_PORT (6060), APPMESH_HEALTH_PORT (6061),
//     timeouts, APPMESH_MAX_BODY_BYTES, APPMESH_CORS_ORIGINS,
//     APPMESH_REQUESTS_PER_MINUTE, APPMESH_TRUSTED_PROXIES
//   - Auth: APPMESH_JWT_ISSUER, APPMESH_JWT_CLOCK_SKEW,
//     APPMESH_STRICT_AUTH_STATUS, APPMESH_TOKEN_TTL, APPMESH_MAX_TOKEN_TTL,
//     APPMESH_LOGIN_ATTEMPTS_PER_MINUTE, APPMESH_LOGIN_FAIL_CLOSED
//   - Forward: APPMESH_FORWARD_ENABLED, APPMESH_FORWARD_ADDRESS,
//     APPMESH_FORWARD_TIMEOUT, APPMESH_FORWARD_LISTEN
//   - Directory: APPMESH_DIRECTORY_TYPE (file or postgres),
//     APPMESH_DIRECTORY_FILE, APPMESH_DIRECTORY_WATCH, APPMESH_POSTGRES_*,
//     APPMESH_JWT_ENABLED, APPMESH_DIRECTORY_CACHE_SIZE/TTL (cache off by default),
//     APPMESH_DIRECTORY_STATS_SCHEDULE
//   - Redis: APPMESH_REDIS_URL (empty keeps login limits in process)
//   - Audit: APPMESH_AUDIT_SINK (none, log, file, both), APPMESH_AUDIT_DIR
//   - Observability: APPMESH_LOG_LEVEL, APPMESH_LOG_FORMAT,
//     APPMESH_METRICS_ENABLED, APPMESH_OTEL_*
package config
