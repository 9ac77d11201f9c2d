package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"flippredict/internal/engine/lmsr"
	"flippredict/internal/models"
	"flippredict/internal/repository"
)

// MarketService creates and reads markets.
type MarketService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// CreateMarketParams describes a new binary market. InitialLiquidity seeds
// both reserves equally so the market opens at 0.5/0.5.
type CreateMarketParams struct {
	ID               string
	Title            string
	Category         string
	EndTime          time.Time
	InitialLiquidity decimal.Decimal

	ResolutionType string
	OraclePair     string
	TokenAddress   string
	TargetPrice    *decimal.Decimal
}

// OptionParams is one outcome leg of a multi-option market.
type OptionParams struct {
	Key   string
	Label string
}

// CreateMultiMarketParams describes a new multi-option LMSR market.
type CreateMultiMarketParams struct {
	ID       string
	Title    string
	Category string
	EndTime  time.Time
	B        decimal.Decimal
	Options  []OptionParams
}

// MarketDetail is a market with its option legs and resolution config.
type MarketDetail struct {
	Market     models.Market            `json:"market"`
	Options    []models.MarketOption    `json:"options,omitempty"`
	Resolution *models.MarketResolution `json:"resolution,omitempty"`
}

func (s *MarketService) CreateBinaryMarket(ctx context.Context, params CreateMarketParams) (*models.Market, error) {
	params.Title = strings.TrimSpace(params.Title)
	if params.Title == "" || params.EndTime.IsZero() {
		return nil, ErrInvalidAmount
	}
	if !params.InitialLiquidity.IsPositive() {
		return nil, ErrInvalidAmount
	}
	switch params.ResolutionType {
	case "", models.ResolutionTypeManual:
		params.ResolutionType = models.ResolutionTypeManual
	case models.ResolutionTypePriceAbove, models.ResolutionTypePriceBelow:
		if params.TargetPrice == nil || !params.TargetPrice.IsPositive() {
			return nil, ErrInvalidPrice
		}
		if params.OraclePair == "" && params.TokenAddress == "" {
			return nil, ErrInvalidOutcome
		}
	default:
		return nil, ErrInvalidOutcome
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	half := decimal.NewFromFloat(0.5)
	market := &models.Market{
		ID:             id,
		Title:          params.Title,
		Category:       params.Category,
		MarketType:     models.MarketTypeBinary,
		Status:         models.MarketStatusActive,
		YesReserve:     params.InitialLiquidity,
		NoReserve:      params.InitialLiquidity,
		YesPrice:       half,
		NoPrice:        half,
		TotalLiquidity: params.InitialLiquidity,
		TotalLPShares:  params.InitialLiquidity,
		EndTime:        params.EndTime.UTC(),
	}

	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.CreateMarketTx(ctx, tx, market); err != nil {
			return err
		}
		return s.Repo.UpsertResolutionTx(ctx, tx, &models.MarketResolution{
			MarketID:       id,
			ResolutionType: params.ResolutionType,
			OraclePair:     strings.ToUpper(strings.TrimSpace(params.OraclePair)),
			TokenAddress:   strings.ToLower(strings.TrimSpace(params.TokenAddress)),
			TargetPrice:    params.TargetPrice,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("market created",
			zap.String("market_id", id),
			zap.String("resolution_type", params.ResolutionType))
	}
	return market, nil
}

func (s *MarketService) CreateMultiMarket(ctx context.Context, params CreateMultiMarketParams) (*models.Market, error) {
	params.Title = strings.TrimSpace(params.Title)
	if params.Title == "" || params.EndTime.IsZero() {
		return nil, ErrInvalidAmount
	}
	if len(params.Options) < 2 {
		return nil, ErrUnknownOption
	}
	if !params.B.IsPositive() {
		return nil, lmsr.ErrInvalidB
	}
	seen := map[string]bool{}
	for _, o := range params.Options {
		key := strings.TrimSpace(o.Key)
		if key == "" || models.IsBinarySide(key) || seen[key] {
			return nil, ErrUnknownOption
		}
		seen[key] = true
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	// The sponsor's worst-case subsidy b*ln(n) is the liquidity backing
	// the market; it is what settlement can have to pay out beyond the
	// collected trade costs.
	b, _ := params.B.Float64()
	subsidy := decimal.NewFromFloat(lmsr.MaxLoss(len(params.Options), b)).Round(10)
	market := &models.Market{
		ID:             id,
		Title:          params.Title,
		Category:       params.Category,
		MarketType:     models.MarketTypeMulti,
		Status:         models.MarketStatusActive,
		LMSRB:          params.B,
		TotalLiquidity: subsidy,
		EndTime:        params.EndTime.UTC(),
	}

	// All legs start at quantity zero, so LMSR prices open uniform.
	uniform := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(params.Options))))
	options := make([]models.MarketOption, 0, len(params.Options))
	for _, o := range params.Options {
		options = append(options, models.MarketOption{
			MarketID:  id,
			OptionKey: strings.TrimSpace(o.Key),
			Label:     strings.TrimSpace(o.Label),
			Quantity:  decimal.Zero,
			Price:     uniform,
		})
	}

	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.CreateMarketTx(ctx, tx, market); err != nil {
			return err
		}
		if err := s.Repo.CreateMarketOptionsTx(ctx, tx, options); err != nil {
			return err
		}
		return s.Repo.UpsertResolutionTx(ctx, tx, &models.MarketResolution{
			MarketID:       id,
			ResolutionType: models.ResolutionTypeManual,
		})
	})
	if err != nil {
		return nil, err
	}
	return market, nil
}

func (s *MarketService) GetMarket(ctx context.Context, id string) (*MarketDetail, error) {
	market, err := s.Repo.GetMarketByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	detail := &MarketDetail{Market: *market}
	if market.MarketType == models.MarketTypeMulti {
		options, err := s.Repo.ListMarketOptions(ctx, id)
		if err != nil {
			return nil, err
		}
		detail.Options = options
	}
	res, err := s.Repo.GetResolutionByMarketID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Resolution = res
	return detail, nil
}

func (s *MarketService) ListMarkets(ctx context.Context, params repository.ListMarketsParams) ([]models.Market, int64, error) {
	items, err := s.Repo.ListMarkets(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountMarkets(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *MarketService) PriceHistory(ctx context.Context, marketID string, limit int) ([]models.PricePoint, error) {
	return s.Repo.ListPricePoints(ctx, marketID, limit)
}

// SnapshotPrices records one price point per active market; scheduled on
// the cron runner so charts have a baseline between trades.
func (s *MarketService) SnapshotPrices(ctx context.Context) error {
	status := models.MarketStatusActive
	markets, err := s.Repo.ListMarkets(ctx, repository.ListMarketsParams{Status: &status, Limit: 1000})
	if err != nil {
		return err
	}
	for _, m := range markets {
		if m.MarketType != models.MarketTypeBinary {
			continue
		}
		err := s.Repo.InsertPricePoint(ctx, &models.PricePoint{
			MarketID: m.ID,
			YesPrice: m.YesPrice,
			NoPrice:  m.NoPrice,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
