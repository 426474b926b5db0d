package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jeffconboy/statedge/internal/clock"
	"github.com/jeffconboy/statedge/internal/config"
	identitydomain "github.com/jeffconboy/statedge/internal/identity/domain"
	obsmetrics "github.com/jeffconboy/statedge/internal/observability/metrics"
	quotadomain "github.com/jeffconboy/statedge/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Limits  *config.LimitsHolder
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	limits  *config.LimitsHolder
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("quota.service"),
		limits:  p.Limits,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Lookup(ctx context.Context, apiKey string) (*identitydomain.Identity, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, quotadomain.ErrIdentityNotFound
	}

	var identity identitydomain.Identity
	err := s.db.WithContext(ctx).
		Where("api_key = ?", apiKey).
		First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, quotadomain.ErrIdentityNotFound
		}
		return nil, quotadomain.ErrLedgerUnavailable
	}
	return &identity, nil
}

// Admit resolves the identity, then runs the rollover-and-increment as a
// single conditional UPDATE. Two concurrent callers for the same identity can
// never both pass a limit with room for only one: the store evaluates the
// guard and the increment in one statement.
func (s *Service) Admit(ctx context.Context, apiKey string, cost int) (quotadomain.Decision, error) {
	if cost <= 0 {
		return quotadomain.Decision{}, quotadomain.ErrInvalidCost
	}

	identity, err := s.Lookup(ctx, apiKey)
	if err != nil {
		return quotadomain.Decision{}, err
	}

	limit := s.limits.Get().TierLimit(identity.Tier)
	now := s.clock.Now().UTC()
	today := now.Format(dateLayout)
	resetAt := startOfNextDay(now)

	res := s.db.WithContext(ctx).Exec(`
		UPDATE identities
		SET calls_used_today = (CASE WHEN last_reset_date < ? THEN 0 ELSE calls_used_today END) + ?,
		    last_reset_date = ?,
		    updated_at = ?
		WHERE id = ?
		  AND (CASE WHEN last_reset_date < ? THEN 0 ELSE calls_used_today END) + ? <= ?`,
		today, cost,
		today,
		now,
		identity.ID,
		today, cost, limit,
	)
	if res.Error != nil {
		s.log.Error("ledger update failed", zap.Error(res.Error))
		s.incDecision(identity.Tier, obsmetrics.QuotaOutcomeError)
		return quotadomain.Decision{}, quotadomain.ErrLedgerUnavailable
	}

	if res.RowsAffected == 1 {
		used, err := s.usedToday(ctx, identity.ID.Int64(), today)
		if err != nil {
			// The admission already happened and stands; the count is only
			// informational.
			used = identity.CallsUsedToday + cost
		}
		s.incDecision(identity.Tier, obsmetrics.QuotaOutcomeAllowed)
		return quotadomain.Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: clampNonNegative(limit - used),
			ResetAt:   resetAt,
		}, nil
	}

	used, err := s.usedToday(ctx, identity.ID.Int64(), today)
	if err != nil {
		return quotadomain.Decision{}, quotadomain.ErrLedgerUnavailable
	}
	s.incDecision(identity.Tier, obsmetrics.QuotaOutcomeDenied)
	s.log.Warn("quota exceeded",
		zap.String("identity_id", identity.ID.String()),
		zap.String("tier", identity.Tier),
		zap.Int("used", used),
		zap.Int("limit", limit),
	)
	return quotadomain.Decision{
		Allowed:   false,
		Limit:     limit,
		Remaining: clampNonNegative(limit - used),
		ResetAt:   resetAt,
	}, nil
}

// usedToday reads the effective counter for the current day: a row whose
// last reset precedes today counts as zero.
func (s *Service) usedToday(ctx context.Context, id int64, today string) (int, error) {
	var row struct {
		CallsUsedToday int
		LastResetDate  string
	}
	err := s.db.WithContext(ctx).
		Table("identities").
		Select("calls_used_today", "last_reset_date").
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		return 0, err
	}
	if row.LastResetDate < today {
		return 0, nil
	}
	return row.CallsUsedToday, nil
}

func startOfNextDay(now time.Time) time.Time {
	year, month, day := now.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func (s *Service) incDecision(tier, outcome string) {
	if s.metrics != nil {
		s.metrics.IncQuotaDecision(tier, outcome)
	}
}
