package logging

import "go.uber.org/zap"

// New builds the process logger: human-readable output for local
// development, JSON elsewhere.
func New(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
