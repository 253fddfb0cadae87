// Package svc 组装各个业务模块，main 与测试共用同一套装配逻辑。
package svc

import (
	"fmt"

	"github.com/SlpAus/expert-rating-backend/internal/event"
	"github.com/SlpAus/expert-rating-backend/internal/expert"
	"github.com/SlpAus/expert-rating-backend/internal/identity"
	"github.com/SlpAus/expert-rating-backend/internal/notify"
	"github.com/SlpAus/expert-rating-backend/internal/payment"
	"github.com/SlpAus/expert-rating-backend/internal/platform/cache"
	"github.com/SlpAus/expert-rating-backend/internal/platform/config"
	"github.com/SlpAus/expert-rating-backend/internal/platform/health"
	"github.com/SlpAus/expert-rating-backend/internal/platform/idempotency"
	"github.com/SlpAus/expert-rating-backend/internal/platform/lock"
	"github.com/SlpAus/expert-rating-backend/internal/promocode"
	"github.com/SlpAus/expert-rating-backend/internal/rating"
	"github.com/SlpAus/expert-rating-backend/internal/tariff"
	"github.com/SlpAus/expert-rating-backend/internal/vote"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceContext 持有所有模块的服务与HTTP处理器
type ServiceContext struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  redis.UniversalClient
	Log    *zap.Logger

	Notifier notify.Notifier
	Resolver identity.Resolver
	Health   *health.Checker

	Tariffs  *tariff.Service
	Events   *event.Service
	Experts  *expert.Service
	Votes    *vote.Service
	Payments *payment.Service
	Promos   *promocode.Service

	TariffHandler  *tariff.Handler
	EventHandler   *event.Handler
	ExpertHandler  *expert.Handler
	VoteHandler    *vote.Handler
	PaymentHandler *payment.Handler
	PromoHandler   *promocode.Handler
}

// Migrate 依次迁移所有模块的表，并写入默认档位
func Migrate(db *gorm.DB) error {
	steps := []struct {
		name    string
		migrate func(*gorm.DB) error
	}{
		{"expert", expert.Migrate},
		{"tariff", tariff.Migrate},
		{"event", event.Migrate},
		{"rating", rating.Migrate},
		{"payment", payment.Migrate},
		{"promocode", promocode.Migrate},
	}
	for _, step := range steps {
		if err := step.migrate(db); err != nil {
			return fmt.Errorf("模块 %s 迁移失败: %w", step.name, err)
		}
	}
	return nil
}

// NewServiceContext 装配所有模块。notifier 为空时丢弃所有通知。
func NewServiceContext(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient, notifier notify.Notifier, log *zap.Logger) (*ServiceContext, error) {
	if notifier == nil {
		notifier = notify.Discard{}
	}

	resolver, err := identity.NewCachedResolver(identity.NewVKResolver(cfg.VK, log.Named("identity")), cfg.Cache.IdentityTTL)
	if err != nil {
		return nil, err
	}

	locker := lock.NewRedisLocker(rdb)
	results := idempotency.NewStore(rdb, cfg.Voting.IdempotencyTTL)
	profiles := cache.NewProfileCache(rdb, cfg.Cache.ProfileTTL, log.Named("cache"))

	ratingRepo := rating.NewRepository(db)
	eventRepo := event.NewRepository(db)
	expertRepo := expert.NewRepository(db)
	tariffRepo := tariff.NewRepository(db)

	tariffs := tariff.NewService(tariffRepo, eventRepo)
	events := event.NewService(eventRepo, tariffs, ratingRepo, locker, profiles, notifier, log.Named("event"), event.Options{
		OverlapBuffer: cfg.Event.OverlapBuffer,
		LockHold:      cfg.Voting.LockHold,
		LockWait:      cfg.Voting.LockWait,
	})
	experts := expert.NewService(expert.Deps{
		Repo:     expertRepo,
		Ratings:  ratingRepo,
		Events:   eventRepo,
		Tariffs:  tariffs,
		TariffDB: tariffRepo,
		Cache:    profiles,
		Notifier: notifier,
		IsAdmin:  cfg.Admin.IsAdmin,
		Log:      log.Named("expert"),
	})
	votes := vote.NewService(vote.Deps{
		Ratings:  ratingRepo,
		Events:   events,
		Experts:  experts,
		Limits:   tariffs,
		Locker:   locker,
		Results:  results,
		Cache:    profiles,
		Notifier: notifier,
		Log:      log.Named("vote"),
	}, vote.Options{
		LockHold:                  cfg.Voting.LockHold,
		LockWait:                  cfg.Voting.LockWait,
		MinCommunityCommentLength: cfg.Voting.MinCommunityCommentLength,
		RequireEventComment:       cfg.Voting.RequireEventComment,
	})
	payments := payment.NewService(db, expertRepo, tariffRepo, tariffs, results, profiles, notifier, log.Named("payment"), payment.Options{
		Secret:           cfg.VK.CallbackSecret,
		ConfirmationCode: cfg.VK.ConfirmationCode,
		AppSecret:        cfg.VK.AppSecret,
		MarkerTTL:        cfg.Cache.PaymentMarkerTTL,
	})
	promos := promocode.NewService(promocode.NewRepository(db), tariffRepo, locker, log.Named("promocode"), promocode.Options{
		LockHold: cfg.Voting.LockHold,
		LockWait: cfg.Voting.LockWait,
	})

	return &ServiceContext{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Log:      log,
		Notifier: notifier,
		Resolver: resolver,
		Health:   health.NewChecker(db, rdb, log.Named("health"), cfg.Voting.LockHold),

		Tariffs:  tariffs,
		Events:   events,
		Experts:  experts,
		Votes:    votes,
		Payments: payments,
		Promos:   promos,

		TariffHandler:  tariff.NewHandler(tariffs, log.Named("tariff")),
		EventHandler:   event.NewHandler(events, log.Named("event")),
		ExpertHandler:  expert.NewHandler(experts, log.Named("expert")),
		VoteHandler:    vote.NewHandler(votes, log.Named("vote")),
		PaymentHandler: payment.NewHandler(payments, log.Named("payment")),
		PromoHandler:   promocode.NewHandler(promos, log.Named("promocode")),
	}, nil
}
