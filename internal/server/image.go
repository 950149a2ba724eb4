package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/fetchcache"
	"github.com/any-hub/imgcache/internal/loader"
)

type imageHandler struct {
	logger      *logrus.Logger
	loader      *loader.Loader
	cache       *fetchcache.Cache
	concurrency int
}

type loadOutcome struct {
	result loader.Result
	err    error
}

// get 加载 src 并直接返回载荷。
func (h *imageHandler) get(c fiber.Ctx) error {
	done := make(chan loadOutcome, 1)
	opts, err := requestOptions(c)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	source, err := sourceFromQuery(c)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	opts = append(opts,
		loader.WithOnSuccess(func(res loader.Result) { done <- loadOutcome{result: res} }),
		loader.WithOnError(func(err error) { done <- loadOutcome{err: err} }),
	)
	req, err := loader.NewRequest(source, opts...)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	handle := h.loader.Load(ctx, strings.TrimSpace(c.Query("slot")), req)
	out := <-done
	if out.err != nil {
		return h.renderLoadError(c, source, handle.ID(), out.err)
	}

	res := out.result
	c.Set(fiber.HeaderContentType, http.DetectContentType(res.Payload))
	c.Set("X-Imgcache-Cache-Hit", strconv.FormatBool(res.FromCache))
	if res.Path != "" {
		c.Set("X-Imgcache-Path", res.Path)
	}
	c.Set("X-Imgcache-Width", strconv.Itoa(res.Width))
	c.Set("X-Imgcache-Height", strconv.Itoa(res.Height))
	c.Set("X-Imgcache-Task", handle.ID())
	return c.Status(fiber.StatusOK).Send(res.Payload)
}

func (h *imageHandler) renderLoadError(c fiber.Ctx, source loader.Source, taskID string, err error) error {
	status, code := fiber.StatusBadGateway, "fetch_failed"
	switch {
	case errors.Is(err, loader.ErrInvalidRequest):
		status, code = fiber.StatusBadRequest, "invalid_request"
	case errors.Is(err, loader.ErrSuperseded):
		status, code = fiber.StatusConflict, "superseded"
	}

	h.logger.WithFields(logrus.Fields{
		"action":     "image_load",
		"request_id": RequestID(c),
		"identifier": source.Identifier,
		"kind":       source.Kind.String(),
		"task":       taskID,
		"status":     status,
	}).WithError(err).Warn("load failed")
	return writeError(c, status, code)
}

// evict 删除 src 的缓存条目。
func (h *imageHandler) evict(c fiber.Ctx) error {
	source, err := sourceFromQuery(c)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	req, err := loader.NewRequest(source)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	if req.Source().Kind != loader.KindURL {
		// 本地来源不写入缓存
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := h.cache.Invalidate(c.Context(), source.Identifier); err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "cache_invalidate",
			"request_id": RequestID(c),
			"identifier": source.Identifier,
		}).WithError(err).Error("invalidate failed")
		return writeError(c, fiber.StatusInternalServerError, "evict_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type prefetchRequest struct {
	Sources []string `json:"sources"`
	TTL     string   `json:"ttl"`
}

type prefetchResponse struct {
	fetchcache.PrefetchReport
	Errors []string `json:"errors,omitempty"`
}

// prefetch 预热一组远程地址，完成后返回汇总。
func (h *imageHandler) prefetch(c fiber.Ctx) error {
	var body prefetchRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil || len(body.Sources) == 0 {
		return writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	ttl, err := parseDuration(body.TTL)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	for _, src := range body.Sources {
		if _, err := loader.NewRequest(loader.URL(src)); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_request")
		}
	}

	report, err := h.cache.Prefetch(c.Context(), body.Sources, h.concurrency, fetchcache.WithValidity(ttl))
	resp := prefetchResponse{PrefetchReport: report}
	if err != nil {
		resp.Errors = strings.Split(err.Error(), "\n")
	}
	h.logger.WithFields(logrus.Fields{
		"action":     "prefetch",
		"request_id": RequestID(c),
		"requested":  report.Requested,
		"fetched":    report.Fetched,
		"cached":     report.Cached,
		"failed":     report.Failed,
	}).Info("prefetch finished")
	return c.Status(fiber.StatusOK).JSON(resp)
}

func sourceFromQuery(c fiber.Ctx) (loader.Source, error) {
	kind, err := loader.ParseKind(c.Query("kind"))
	if err != nil {
		return loader.Source{}, err
	}
	return loader.Source{Kind: kind, Identifier: strings.TrimSpace(c.Query("src"))}, nil
}

func requestOptions(c fiber.Ctx) ([]loader.RequestOption, error) {
	var opts []loader.RequestOption
	if raw := c.Query("ttl"); raw != "" {
		ttl, err := parseDuration(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, loader.WithValidity(ttl))
	}
	rawRetries, rawDelay := c.Query("retries"), c.Query("retry_delay")
	if rawRetries != "" || rawDelay != "" {
		retries := 0
		if rawRetries != "" {
			n, err := strconv.Atoi(rawRetries)
			if err != nil {
				return nil, err
			}
			retries = n
		}
		delay, err := parseDuration(rawDelay)
		if err != nil {
			return nil, err
		}
		opts = append(opts, loader.WithRetry(retries, delay))
	}
	return opts, nil
}

// parseDuration 接受 Go Duration 字符串或纯数字秒值，空字符串返回 0。
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
