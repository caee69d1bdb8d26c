package services

import (
	"context"
	"os"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/summit-chronicles/summit_api/dto"
	"github.com/summit-chronicles/summit_api/shared"
	log "github.com/sirupsen/logrus"
)

// RateLimitService is a token-bucket admission limiter with a fixed refill
// boundary and a punitive block window per (identifier, operation). Budgets
// are process constants; changing them requires a redeploy.
type RateLimitService struct {
	appContext.DefaultService

	configs map[string]*RateLimitConfig
	mutex   sync.RWMutex

	store BucketStore
	now   func() time.Time

	redisSvc *RedisService
}

type RateLimitConfig struct {
	Operation     string        `json:"operation"`
	Points        int           `json:"points"`
	Duration      time.Duration `json:"duration"`
	BlockDuration time.Duration `json:"block_duration"`
	Description   string        `json:"description"`
}

const RATE_LIMIT_SVC = "rate_limit_svc"

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *appContext.Context) error {
	svc.now = time.Now
	svc.initDefaultConfigs()
	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) Start() error {
	if os.Getenv("RATE_LIMIT_STORE") == "redis" {
		svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
		if client := svc.redisSvc.GetClient(); client != nil {
			svc.store = NewRedisBucketStore(client)
			log.Println("Rate limiter using shared redis bucket store")
		}
	}

	if svc.store == nil {
		memStore := NewMemoryBucketStore()
		svc.store = memStore
		go svc.startCleanupJob(memStore)
	}

	return nil
}

func (svc *RateLimitService) initDefaultConfigs() {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	svc.configs = map[string]*RateLimitConfig{
		shared.OpGeneral: {
			Operation:     shared.OpGeneral,
			Points:        50,
			Duration:      time.Hour,
			BlockDuration: time.Hour,
			Description:   "General per-address budget",
		},
		shared.OpAskAI: {
			Operation:     shared.OpAskAI,
			Points:        10,
			Duration:      time.Hour,
			BlockDuration: 30 * time.Minute,
			Description:   "AI question budget",
		},
		shared.OpExcelUpload: {
			Operation:     shared.OpExcelUpload,
			Points:        5,
			Duration:      time.Hour,
			BlockDuration: 2 * time.Hour,
			Description:   "Training plan upload budget",
		},
		shared.OpTrainingInsights: {
			Operation:     shared.OpTrainingInsights,
			Points:        20,
			Duration:      time.Hour,
			BlockDuration: 30 * time.Minute,
			Description:   "Training insight generation budget",
		},
	}
}

// ==================== CORE RATE LIMITING LOGIC ====================

// Consume spends one point from the (identifier, operation) bucket. Unknown
// operations are allowed through so a missing config never bricks a route.
func (svc *RateLimitService) Consume(ctx context.Context, identifier, operation string) (bool, *dto.RateLimitInfo, error) {
	svc.mutex.RLock()
	config, exists := svc.configs[operation]
	svc.mutex.RUnlock()

	if !exists {
		return true, &dto.RateLimitInfo{Allowed: true, Remaining: -1}, nil
	}

	decision, err := svc.store.Consume(ctx, identifier, operation, config, svc.now())
	if err != nil {
		return false, nil, err
	}

	info := &dto.RateLimitInfo{
		Allowed:      decision.Allowed,
		Remaining:    decision.Remaining,
		BlockedUntil: decision.BlockedUntil,
	}
	resetAt := decision.ResetAt
	info.ResetTime = &resetAt

	return decision.Allowed, info, nil
}

// Reset clears every bucket held for one identifier. Operator use only; there
// is deliberately no bulk reset across identifiers.
func (svc *RateLimitService) Reset(ctx context.Context, identifier string) error {
	log.WithField("identifier", identifier).Info("Rate limit state reset")
	return svc.store.Reset(ctx, identifier)
}

func (svc *RateLimitService) GetConfigs() map[string]*RateLimitConfig {
	svc.mutex.RLock()
	defer svc.mutex.RUnlock()

	configs := make(map[string]*RateLimitConfig, len(svc.configs))
	for k, v := range svc.configs {
		configs[k] = v
	}
	return configs
}

func (svc *RateLimitService) maxWindow() time.Duration {
	svc.mutex.RLock()
	defer svc.mutex.RUnlock()

	max := time.Hour
	for _, cfg := range svc.configs {
		if cfg.Duration > max {
			max = cfg.Duration
		}
		if cfg.BlockDuration > max {
			max = cfg.BlockDuration
		}
	}
	return max
}

// ==================== BACKGROUND JOBS ====================

func (svc *RateLimitService) startCleanupJob(store *MemoryBucketStore) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		removed := store.Cleanup(svc.now(), svc.maxWindow())
		if removed > 0 {
			log.WithField("removed", removed).Debug("Expired rate limit buckets cleaned up")
		}
	}
}
