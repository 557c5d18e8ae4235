package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// CacheMetrics is returned by GET /v1/metrics/cache.
type CacheMetrics struct {
	CacheHits         int64   `json:"cacheHits"`
	CacheMisses       int64   `json:"cacheMisses"`
	CacheHitRate      float64 `json:"cacheHitRate"`
	MembershipQueries int64   `json:"membershipQueries"`
	PointLookups      int64   `json:"pointLookups"`
	FailedLookups     int64   `json:"failedLookups"`
	PageLoads         int64   `json:"pageLoads"`
	FailedPageLoads   int64   `json:"failedPageLoads"`
	Superseded        int64   `json:"superseded"`
	ActiveSessions    int     `json:"activeSessions"`
	Period            string  `json:"period"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
