package server

import (
	"github.com/any-hub/imgcache/internal/fetchcache"
	"github.com/any-hub/imgcache/internal/loader"
)

// Diagnostics 汇总运行时计数，供 /-/status 使用。
type Diagnostics struct {
	Cache  *fetchcache.Cache
	Loader *loader.Loader
}

func (d Diagnostics) InFlight() int {
	return d.Cache.InFlight()
}

func (d Diagnostics) Slots() int {
	return d.Loader.Slots()
}

func (d Diagnostics) StoreBasePath() string {
	return d.Cache.Store().BasePath()
}
