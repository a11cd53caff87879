package ratelimit

import (
	"net/http"
	"strings"
)

// exemptPaths are never limited: health checks and metric scrapes.
var exemptPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// MatchEndpoint returns the configuration for a request, or nil when the default tier
// applies. An exact path wins over the longest matching prefix.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if method == http.MethodGet && exemptPaths[path] {
		return &EndpointConfig{Path: path, Method: method}
	}

	var prefix *EndpointConfig
	for i := range configs {
		cfg := &configs[i]
		if cfg.Method != method {
			continue
		}
		if cfg.Path == path {
			return cfg
		}
		if strings.HasSuffix(cfg.Path, "/") && strings.HasPrefix(path, cfg.Path) &&
			(prefix == nil || len(cfg.Path) > len(prefix.Path)) {
			prefix = cfg
		}
	}
	return prefix
}
