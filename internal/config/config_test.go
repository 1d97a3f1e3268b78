package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
mongo:
  uri: mongodb://localhost:27017
  database: realtime
postgres:
  dsn: postgres://localhost:5432/realtime
jwt:
  secret: s3cret
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want default 8080", cfg.Server.Port)
	}
	if cfg.ReadTimeout != 15*time.Second || cfg.WriteTimeout != 15*time.Second {
		t.Errorf("server timeouts = %v/%v", cfg.ReadTimeout, cfg.WriteTimeout)
	}
	if cfg.PingInterval != 25*time.Second || cfg.WriteDeadline != 10*time.Second {
		t.Errorf("ws timing = %v/%v", cfg.PingInterval, cfg.WriteDeadline)
	}
	if cfg.WS.MaxMessageSizeBytes != 64*1024 || cfg.WS.SendRatePerSecond != 20 {
		t.Errorf("ws limits = %d/%d", cfg.WS.MaxMessageSizeBytes, cfg.WS.SendRatePerSecond)
	}
	if cfg.Redis.Prefix != "ws" {
		t.Errorf("redis prefix = %q, want ws", cfg.Redis.Prefix)
	}
	if cfg.JWT.Secret != "s3cret" {
		t.Errorf("jwt secret not read through")
	}
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  read_timeout_seconds: 30
ws:
  ping_interval_seconds: 10
  send_rate_per_second: 5
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: realtime.events
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %v", cfg.ReadTimeout)
	}
	if cfg.PingInterval != 10*time.Second {
		t.Errorf("ping interval = %v", cfg.PingInterval)
	}
	if cfg.WS.SendRatePerSecond != 5 {
		t.Errorf("send rate = %d", cfg.WS.SendRatePerSecond)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "realtime.events" {
		t.Errorf("kafka cfg = %+v", cfg.Kafka)
	}
}

func TestLoadShippedExample(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.yaml.example"))
	if err != nil {
		t.Fatalf("example config must load: %v", err)
	}
	if cfg.Mongo.URI == "" || cfg.Postgres.DSN == "" || cfg.JWT.Secret == "" {
		t.Errorf("example config missing required sections: %+v", cfg)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
