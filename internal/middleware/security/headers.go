package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
	// NoStorePrefixes mark responses that carry sales data and must not be
	// cached by browsers or proxies.
	NoStorePrefixes []string
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	connectSrc := "connect-src 'self'"
	if len(cfg.AllowedOrigins) > 0 {
		connectSrc += " " + strings.Join(cfg.AllowedOrigins, " ")
	}
	csp := strings.Join([]string{
		"default-src 'none'",
		connectSrc,
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action 'none'",
	}, "; ")

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", csp)

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		for _, prefix := range cfg.NoStorePrefixes {
			if strings.HasPrefix(c.Path(), prefix) {
				c.Set(fiber.HeaderCacheControl, "no-store")
				break
			}
		}

		return c.Next()
	}
}
