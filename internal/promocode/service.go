// Package promocode 管理折扣促销码：管理员维护促销码，用户在购买档位前用它计算折后价格。
// 每次成功使用都会记录下来，用于总次数与每人次数的限制。
package promocode

import (
	"context"
	"strings"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/platform/database"
	"github.com/SlpAus/expert-rating-backend/internal/platform/lock"
	"github.com/SlpAus/expert-rating-backend/internal/tariff"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = apperr.New(apperr.KindNotFound, "promo_code_not_found", "促销码不存在、已过期或已停用")
	ErrExhausted     = apperr.New(apperr.KindForbidden, "promo_code_exhausted", "促销码的使用次数已用完")
	ErrNotApplicable = apperr.New(apperr.KindValidation, "promo_code_not_applicable", "促销码不适用于该档位")
	ErrDuplicate     = apperr.New(apperr.KindConflict, "promo_code_exists", "相同编码的促销码已存在")
)

// TariffFinder 按编码查找档位
type TariffFinder interface {
	FindByCode(ctx context.Context, code string) (*tariff.Tariff, error)
}

// Options 是使用促销码时的加锁参数
type Options struct {
	LockHold time.Duration
	LockWait time.Duration
}

type Service struct {
	repo     *Repository
	tariffs  TariffFinder
	locker   lock.Locker
	validate *validator.Validate
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

func NewService(repo *Repository, tariffs TariffFinder, locker lock.Locker, log *zap.Logger, opts Options) *Service {
	return &Service{
		repo:     repo,
		tariffs:  tariffs,
		locker:   locker,
		validate: validator.New(),
		log:      log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换服务使用的时钟
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func lockKey(code string) string {
	return "promocode:" + code
}

func (s *Service) fill(c *Code, in Input) error {
	if err := s.validate.Struct(in); err != nil {
		return apperr.Validation("invalid_promo_code", "促销码参数无效: %s", err.Error())
	}
	c.Code = normalize(in.Code)
	if c.Code == "" {
		return apperr.Validation("invalid_promo_code", "促销码不能为空")
	}
	c.DiscountPercent = in.DiscountPercent
	c.ExpiresAt = nil
	if in.ExpiresAt != nil {
		at := in.ExpiresAt.UTC()
		c.ExpiresAt = &at
	}
	c.IsActive = in.IsActive == nil || *in.IsActive
	c.ActivationsLimit = in.ActivationsLimit
	c.UserActivationsLimit = in.UserActivationsLimit
	if c.UserActivationsLimit == 0 {
		c.UserActivationsLimit = 1
	}
	return nil
}

// Create 创建促销码（管理员）
func (s *Service) Create(ctx context.Context, in Input) (*Code, error) {
	c := &Code{}
	if err := s.fill(c, in); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByCode(ctx, c.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicate
	}
	c.CreatedAt = s.now()
	if err := s.repo.Create(ctx, c); err != nil {
		if database.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	s.log.Info("已创建促销码", zap.String("code", c.Code), zap.Int("discount", c.DiscountPercent))
	return c, nil
}

// Update 修改促销码（管理员）
func (s *Service) Update(ctx context.Context, id uint, in Input) (*Code, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	if err := s.fill(c, in); err != nil {
		return nil, err
	}
	other, err := s.repo.FindByCode(ctx, c.Code)
	if err != nil {
		return nil, err
	}
	if other != nil && other.ID != c.ID {
		return nil, ErrDuplicate
	}
	if err := s.repo.Save(ctx, c); err != nil {
		if database.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// Delete 删除促销码（管理员）
func (s *Service) Delete(ctx context.Context, id uint) error {
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// List 分页返回促销码（管理员）
func (s *Service) List(ctx context.Context, page, size int) ([]Code, int64, error) {
	return s.repo.List(ctx, page, size)
}

// Apply 对付费档位使用促销码并返回折后价格。
// 在促销码锁内检查使用次数并记录本次使用，并发使用不会突破次数限制。
func (s *Service) Apply(ctx context.Context, userID int64, in ApplyInput) (*Quote, error) {
	code := normalize(in.Code)
	if code == "" {
		return nil, ErrNotFound
	}

	var quote *Quote
	err := lock.WithLock(ctx, s.locker, lockKey(code), s.opts.LockHold, s.opts.LockWait, s.log, func() error {
		// 1. 促销码本身是否可用
		c, err := s.repo.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		now := s.now()
		if c == nil || !c.usable(now) {
			return ErrNotFound
		}
		if c.ActivationsLimit != nil {
			used, err := s.repo.CountActivations(ctx, c.ID, 0)
			if err != nil {
				return err
			}
			if used >= int64(*c.ActivationsLimit) {
				return ErrExhausted
			}
		}
		mine, err := s.repo.CountActivations(ctx, c.ID, userID)
		if err != nil {
			return err
		}
		if mine >= int64(c.UserActivationsLimit) {
			return ErrExhausted
		}

		// 2. 只适用于可购买的档位
		t, err := s.sellableTariff(ctx, in.TariffID)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrNotApplicable
		}

		// 3. 记录使用并计算价格
		if err := s.repo.RecordActivation(ctx, &Activation{PromoCodeID: c.ID, UserVKID: userID, ActivatedAt: now}); err != nil {
			return err
		}
		quote = &Quote{
			Code:            c.Code,
			OriginalPrice:   t.Price.IntPart(),
			DiscountPercent: c.DiscountPercent,
			FinalPrice:      discounted(t.Price, c.DiscountPercent),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (s *Service) sellableTariff(ctx context.Context, item string) (*tariff.Tariff, error) {
	code, ok := tariff.CodeFromItem(item)
	if !ok {
		return nil, nil
	}
	t, err := s.tariffs.FindByCode(ctx, code)
	if err != nil || t == nil || !t.Sellable() {
		return nil, err
	}
	return t, nil
}

// discounted 返回折后价格，半数按银行家舍入取整
func discounted(price decimal.Decimal, percent int) int64 {
	return price.Mul(decimal.NewFromInt(int64(100 - percent))).
		Div(decimal.NewFromInt(100)).
		RoundBank(0).
		IntPart()
}
