// Package httputil provides JSON response helpers, request parsing and the
// shared HTTP middleware stack.
//
// Error replies always have the shape {"error": "..."}. Unexpected failures
// are answered with WriteInternalError, which never leaks the cause:
//
//	if err != nil {
//		observability.FromContext(ctx).WithError(err).Error("query failed")
//		httputil.WriteInternalError(w)
//		return
//	}
//
// Middleware:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.CORSMiddleware(origins),
//	)(router)
package httputil
