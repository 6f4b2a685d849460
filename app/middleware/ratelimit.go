package middleware

import (
	"math"
	"net/http"
	"strconv"

	httpdto "github.com/vibast-solutions/ms-go-credentials/app/dto/http"
	"github.com/vibast-solutions/ms-go-credentials/app/ratelimit"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
}

func NewRateLimitMiddleware(limiter ratelimit.Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

// Limit counts every request against the client IP. When the limiter backend
// is unavailable the request is let through.
func (m *RateLimitMiddleware) Limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Let CORS preflight pass.
		if c.Request().Method == http.MethodOptions {
			return next(c)
		}

		ip := c.RealIP()
		res, err := m.limiter.Allow(c.Request().Context(), ip)
		if err != nil {
			logrus.WithError(err).WithField("ip", ip).Warn("Rate limiter unavailable, allowing request")
			return next(c)
		}

		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			h.Set("Retry-After", strconv.Itoa(retryAfter))

			logrus.WithField("ip", ip).Debug("Rate limit exceeded")
			return c.JSON(http.StatusTooManyRequests, httpdto.ErrorResponse{Error: ratelimit.ErrRateLimited.Error()})
		}

		return next(c)
	}
}
