package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("IMGCACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--bogus"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	captureOutput(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errOut := captureOutput(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(errOut.String(), "RedisAddr") {
		t.Fatalf("错误输出应包含字段名，得到 %s", errOut.String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	out, _ := captureOutput(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(out.String(), "imgcache") {
		t.Fatalf("version 输出应包含 imgcache 标识")
	}
}

func TestBuildServicesServesStatus(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:          5000,
			LogLevel:            "info",
			StoragePath:         t.TempDir(),
			StoreBackend:        config.BackendDisk,
			AssetRoot:           t.TempDir(),
			CacheTTL:            config.Duration(time.Hour),
			EmptyPayloadTTL:     config.Duration(time.Minute),
			MaxMemoryCache:      1 << 20,
			UpstreamTimeout:     config.Duration(5 * time.Second),
			PrefetchConcurrency: 2,
		},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	rt, err := buildServices(cfg, logger)
	if err != nil {
		t.Fatalf("构建运行时失败: %v", err)
	}
	defer rt.close()

	app, err := rt.newApp(cfg)
	if err != nil {
		t.Fatalf("构建 app 失败: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("status 应返回 JSON: %v", err)
	}
	if decoded["store"] != cfg.Global.StoragePath {
		t.Fatalf("status 应包含存储路径，得到 %s", string(body))
	}
	if !bytes.Contains(body, []byte(`"in_flight":0`)) {
		t.Fatalf("status 应包含 in_flight，得到 %s", string(body))
	}
}
