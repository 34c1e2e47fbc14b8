package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}

// HandleHealth answers the root liveness probe.
func HandleHealth(c *fiber.Ctx) error {
	return c.SendString("Quiniela360 payments backend up")
}
