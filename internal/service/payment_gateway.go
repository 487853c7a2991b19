package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChargeResult is the gateway's answer to a charge attempt.
type ChargeResult struct {
	TransactionID string
	Success       bool
}

// PaymentGateway abstracts the external payment processor.
type PaymentGateway interface {
	Charge(ctx context.Context, amount int64, currency string, metadata map[string]string) (ChargeResult, error)
}

// MockPaymentGateway accepts every charge and fabricates a transaction ID.
// Used until a real processor is wired behind the same interface.
type MockPaymentGateway struct {
	logger *zap.Logger
}

// NewMockPaymentGateway constructs the mock gateway.
func NewMockPaymentGateway(logger *zap.Logger) *MockPaymentGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockPaymentGateway{logger: logger}
}

// Charge approves the payment unconditionally.
func (g *MockPaymentGateway) Charge(ctx context.Context, amount int64, currency string, metadata map[string]string) (ChargeResult, error) {
	txID := "mock-" + uuid.NewString()
	g.logger.Debug("mock charge accepted",
		zap.Int64("amount", amount),
		zap.String("currency", currency),
		zap.String("transaction_id", txID),
	)
	return ChargeResult{TransactionID: txID, Success: true}, nil
}
