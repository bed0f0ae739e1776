package config

import "strings"

// envReplacer maps nested keys like cache.redis.addr to PORTFOLIO_CACHE_REDIS_ADDR.
var envReplacer = strings.NewReplacer(".", "_")
