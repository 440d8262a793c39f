package ratelimit

import (
	"errors"
	"net/http"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/tenant"
)

const defaultPrefix = "ratelimit"

// NewStore wires a limiter store backed by Redis.
func NewStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if rdb == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// New builds a limiter from a formatted rate such as "60-M".
func New(store limiter.Store, formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	return limiter.New(store, rate), nil
}

// ClientKey keys requests by store and authenticated user, falling back to the client IP.
func ClientKey(r *http.Request) string {
	subject, ok := common.UserID(r.Context())
	if !ok || subject == "" {
		subject = "ip:" + common.ClientIP(r)
	} else {
		subject = "user:" + subject
	}
	storeID, _ := tenant.FromContext(r.Context())
	return tenant.PrefixKey(storeID, subject)
}
