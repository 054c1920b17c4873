package training

// Logger is the minimal structured-logging seam the orchestrator logs
// through. SPEC_FULL.md §4.9 carries structured logging as an ambient
// concern even though spec.md's Non-goals exclude a logging *format* as
// an external concern — the engine never binds to a concrete logging
// library itself; callers (a CLI, a test) construct whatever sink they
// want (zap, log/slog, a no-op) and hand it in. NopLogger below is the
// default to keep the package usable with no caller-supplied logger.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// NopLogger discards every log call, the default when no Logger is
// supplied via WithLogger.
type NopLogger struct{}

func (NopLogger) Infow(string, ...interface{})  {}
func (NopLogger) Errorw(string, ...interface{}) {}
