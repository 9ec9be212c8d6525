package ihc

import "go.uber.org/zap"

// NewDevelopmentLogger returns a zap logger preconfigured for interactive
// use against a controller: human-readable console encoding at debug level.
// Library code never calls this itself -- it is a convenience for callers
// who want a sensible default instead of wiring their own zap.Config.
func NewDevelopmentLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
