// Package audit records security relevant decisions of the REST service.
//
// Token issue, token validation, permission checks and access denials are
// written as Events. Each event carries a UUID, the request ID and the user
// from the request context.
//
//	logger, err := audit.NewFileLogger(audit.DefaultFileLoggerConfig())
//	event := audit.NewEvent(ctx, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied)
//	event.Permission = "app-delete"
//	logger.Log(ctx, event)
//
// FileLogger writes JSON lines with size based rotation, LogrusLogger writes
// structured log entries and MultiLogger fans out to several loggers.
package audit
