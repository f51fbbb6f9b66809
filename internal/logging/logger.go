// Package logging builds the zap logger shared by the commands.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	standardErrorPath     = "stderr"
	errMessageParseLevel  = "parse log level"
	errMessageBuildLogger = "build logger"
)

// New returns a JSON production logger at the given level. Output goes to stderr
// so stdout carries nothing but command results.
func New(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageParseLevel, err)
	}

	configuration := zap.NewProductionConfig()
	configuration.Level = atomicLevel
	configuration.OutputPaths = []string{standardErrorPath}
	configuration.ErrorOutputPaths = []string{standardErrorPath}

	logger, err := configuration.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageBuildLogger, err)
	}
	return logger, nil
}
