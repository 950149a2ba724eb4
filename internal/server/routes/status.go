package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/imgcache/internal/version"
)

// StatusSource 提供诊断接口需要的运行时计数。
type StatusSource interface {
	InFlight() int
	Slots() int
	StoreBasePath() string
}

// RegisterStatusRoutes 暴露 /-/status 诊断接口，供运维查看缓存与任务状态。
func RegisterStatusRoutes(app *fiber.App, source StatusSource) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(source))
	})
}

type statusPayload struct {
	Version  string       `json:"version"`
	Build    version.Info `json:"build"`
	Store    string       `json:"store"`
	InFlight int          `json:"in_flight"`
	Slots    int          `json:"slots"`
}

func encodeStatus(source StatusSource) statusPayload {
	return statusPayload{
		Version:  version.Full(),
		Build:    version.Current(),
		Store:    source.StoreBasePath(),
		InFlight: source.InFlight(),
		Slots:    source.Slots(),
	}
}
