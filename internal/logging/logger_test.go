package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/config"
)

func TestInitLoggerWritesStdoutByDefault(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "warn"})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未配置 LogFilePath 时应写 stdout")
	}
	if logger.GetLevel() != logrus.WarnLevel {
		t.Fatalf("日志级别未生效: %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("默认应使用 JSON 格式")
	}
}

func TestInitLoggerTextFormat(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info", LogFormat: "text"})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	if _, ok := logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("LogFormat=text 应使用 TextFormatter")
	}
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "info", LogFormat: "xml"}); err == nil {
		t.Fatalf("未知格式应报错")
	}
}

func TestInitLoggerFallsBackWhenDirBlocked(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logger, err := InitLogger(config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "imgcache.log"),
	})
	if err != nil {
		t.Fatalf("目录不可用不应导致失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("应退回 stdout")
	}
}

func TestInitLoggerRotatesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "imgcache.log")
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "debug", LogFilePath: path, LogMaxSize: 1})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	logger.WithField("action", "test").Info("hello")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("应创建日志文件: %v", err)
	}
	if !strings.Contains(string(raw), `"action":"test"`) {
		t.Fatalf("日志文件内容不符: %s", raw)
	}
}

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	Component(logger, "fetchcache").Info("ready")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["component"] != "fetchcache" {
		t.Fatalf("component 字段缺失: %v", line)
	}
	if Component(nil, "x") == nil {
		t.Fatalf("nil logger 应返回可用入口")
	}
}
