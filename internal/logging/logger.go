package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates a new structured logger
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithAccount returns a logger with an account_number field
func WithAccount(logger *zap.Logger, accountNumber string) *zap.Logger {
	return logger.With(zap.String("account_number", accountNumber))
}
