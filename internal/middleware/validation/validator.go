package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/funnel"
	"github.com/funnel-agent/backend/internal/predefined"
)

type Config struct {
	MaxQueryLength      int
	MaxLocationLength   int
	MaxLocations        int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware screens chat and analytics requests before they reach the
// handlers. Chat text is checked for script injection; values that end up
// bound into SQL (locations, catalog titles, dates, verticals) are checked
// for shape and SQL injection.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}
	if cfg.MaxLocationLength == 0 {
		cfg.MaxLocationLength = 64
	}
	if cfg.MaxLocations == 0 {
		cfg.MaxLocations = 20
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedContentType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		var err error
		path := c.Path()
		switch {
		case c.Method() == fiber.MethodPost && (strings.HasSuffix(path, "/query") || strings.HasSuffix(path, "/nlq/resolve")):
			err = checkQueryBody(c.Body(), cfg)
		case c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/catalog/run"):
			err = checkCatalogRun(c.Body())
		case c.Method() == fiber.MethodGet && strings.Contains(path, "/funnel"):
			err = checkFunnelParams(c, cfg)
		}

		if err != nil {
			cfg.Logger.Warn("Rejected request",
				zap.String("ip", c.IP()),
				zap.String("path", path),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func checkQueryBody(body []byte, cfg Config) error {
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return errors.New("invalid JSON format")
	}
	q, ok := req["query"].(string)
	if !ok || strings.TrimSpace(q) == "" {
		return errors.New("query is required and must be a string")
	}
	return CheckQueryText(q, cfg.MaxQueryLength)
}

// CheckQueryText validates chat text. SQL keywords are allowed; script
// payloads are not.
func CheckQueryText(q string, maxLen int) error {
	if utf8.RuneCountInString(q) > maxLen {
		return fmt.Errorf("query exceeds maximum length of %d characters", maxLen)
	}
	if strings.ContainsRune(q, 0) {
		return errors.New("query contains invalid characters")
	}
	if libinjection.IsXSS(q) {
		return errors.New("invalid query content")
	}
	return nil
}

// CheckSQLValue rejects a value that libinjection fingerprints as SQL.
func CheckSQLValue(name, value string) error {
	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return fmt.Errorf("invalid %s value (fingerprint %s)", name, fingerprint)
	}
	return nil
}

func checkCatalogRun(body []byte) error {
	var req struct {
		Title     string `json:"title"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return errors.New("invalid JSON format")
	}
	if err := CheckSQLValue("title", req.Title); err != nil {
		return err
	}
	return checkDates(req.StartDate, req.EndDate)
}

func checkFunnelParams(c *fiber.Ctx, cfg Config) error {
	if v := c.Query("vertical"); v != "" {
		if _, err := funnel.ParseVertical(v); err != nil {
			return err
		}
	}
	if err := checkDates(c.Query("start_date"), c.Query("end_date")); err != nil {
		return err
	}

	locations := strings.Split(c.Query("locations"), ",")
	if len(locations) > cfg.MaxLocations {
		return fmt.Errorf("at most %d locations are allowed", cfg.MaxLocations)
	}
	for _, loc := range locations {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		if utf8.RuneCountInString(loc) > cfg.MaxLocationLength {
			return fmt.Errorf("location exceeds maximum length of %d characters", cfg.MaxLocationLength)
		}
		if err := CheckSQLValue("location", loc); err != nil {
			return err
		}
	}
	return nil
}

func checkDates(start, end string) error {
	if start != "" {
		if err := predefined.ValidateDate(start); err != nil {
			return fmt.Errorf("start_date: %w", err)
		}
	}
	if end != "" {
		if err := predefined.ValidateDate(end); err != nil {
			return fmt.Errorf("end_date: %w", err)
		}
	}
	return nil
}
