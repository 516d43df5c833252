// Package middleware provides HTTP middleware for session authentication,
// feed-role checks and rate limiting.
//
// AuthMiddleware verifies the Bearer session token, loads the caller's role
// on every feed and stores an *auth.AuthContext in the request context:
//
//	api := router.PathPrefix("/api").Subrouter()
//	api.Use(middleware.NewAuthMiddleware(sessions, permissionsStore, logger).Handler)
//
// RateLimit throttles by DID, falling back to client IP, with either an
// in-memory token bucket or a Redis counter shared across instances:
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.DefaultRateLimitConfig(), "ratelimit:auth")
//	authRoutes.Use(middleware.RateLimit(limiter, logger))
package middleware
