package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"flippredict/internal/models"
	"flippredict/internal/repository"
)

// AccountService reads per-user state and credits deposits.
type AccountService struct {
	Repo repository.Repository
}

// Deposit credits amount to the user's available balance, creating the
// balance row on first use.
func (s *AccountService) Deposit(ctx context.Context, userAddress string, amount decimal.Decimal) (*models.Balance, error) {
	userAddress = strings.TrimSpace(userAddress)
	if userAddress == "" {
		return nil, ErrInsufficientBalance
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.CreditBalanceTx(ctx, tx, userAddress, amount)
	})
	if err != nil {
		return nil, err
	}
	return s.Repo.GetBalance(ctx, userAddress)
}

func (s *AccountService) GetBalance(ctx context.Context, userAddress string) (*models.Balance, error) {
	balance, err := s.Repo.GetBalance(ctx, userAddress)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = &models.Balance{
			UserAddress: strings.TrimSpace(userAddress),
			Available:   decimal.Zero,
			Locked:      decimal.Zero,
		}
	}
	return balance, nil
}

func (s *AccountService) ListPositions(ctx context.Context, userAddress string) ([]models.Position, error) {
	return s.Repo.ListPositionsByUser(ctx, userAddress)
}

func (s *AccountService) ListTrades(ctx context.Context, params repository.ListTradeOrdersParams) ([]models.TradeOrder, error) {
	return s.Repo.ListTradeOrders(ctx, params)
}

func (s *AccountService) ListSettlements(ctx context.Context, userAddress string) ([]models.SettlementLog, error) {
	return s.Repo.ListSettlementLogsByUser(ctx, userAddress)
}
