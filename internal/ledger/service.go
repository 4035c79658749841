package ledger

import (
	"context"
	"fmt"

	"github.com/mtorresdev/molino-backend/pkg/db/models"
	"github.com/mtorresdev/molino-backend/pkg/enums"
)

// Service defines the ledger operations the webhook and renewal paths use.
type Service interface {
	Find(ctx context.Context, gatewayOrder string) (*models.PaymentTransaction, error)
	Record(ctx context.Context, tx *models.PaymentTransaction) error
	Resolve(ctx context.Context, gatewayOrder string, status enums.PaymentStatus, fields ResolveFields) error
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Find(ctx context.Context, gatewayOrder string) (*models.PaymentTransaction, error) {
	if gatewayOrder == "" {
		return nil, fmt.Errorf("gateway order is required")
	}
	return s.repo.FindByGatewayOrder(ctx, gatewayOrder)
}

func (s *service) Record(ctx context.Context, tx *models.PaymentTransaction) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	if tx.GatewayOrder == "" {
		return fmt.Errorf("gateway order is required")
	}
	if !tx.Context.IsValid() {
		return fmt.Errorf("invalid payment context %q", tx.Context)
	}
	if tx.Status == "" {
		tx.Status = enums.PaymentStatusPending
	}
	return s.repo.Create(ctx, tx)
}

func (s *service) Resolve(ctx context.Context, gatewayOrder string, status enums.PaymentStatus, fields ResolveFields) error {
	if gatewayOrder == "" {
		return fmt.Errorf("gateway order is required")
	}
	if !status.IsValid() || !status.IsTerminal() {
		return fmt.Errorf("cannot resolve to status %q", status)
	}
	return s.repo.Resolve(ctx, gatewayOrder, status, fields)
}
