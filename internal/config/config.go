// Package config assembles the single immutable configuration record used
// by every other package. Values come from environment variables, with an
// optional YAML file loaded first as a base layer so the environment always
// wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Isolation holds the sandbox container's fixed resource ceilings.
type Isolation struct {
	MemLimit        string `yaml:"mem_limit"`
	MemswapLimit    string `yaml:"memswap_limit"`
	CPUPeriod       int64  `yaml:"cpu_period"`
	CPUQuota        int64  `yaml:"cpu_quota"`
	PidsLimit       int64  `yaml:"pids_limit"`
	TmpfsSize       string `yaml:"tmpfs_size"`
	WorkspaceSize   string `yaml:"workspace_size"`
	UlimitNofileSoft int64 `yaml:"ulimit_nofile_soft"`
	UlimitNofileHard int64 `yaml:"ulimit_nofile_hard"`
	UlimitNprocSoft  int64 `yaml:"ulimit_nproc_soft"`
	UlimitNprocHard  int64 `yaml:"ulimit_nproc_hard"`
	UID              int64 `yaml:"uid"`
	GID              int64 `yaml:"gid"`
}

// Config is the process-wide configuration record, assembled once at
// startup and threaded by reference into every constructor.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	ContainerImage string `yaml:"container_image"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	SessionTTLSeconds int `yaml:"session_ttl_seconds"`

	RateLimitRequests      int `yaml:"rate_limit_requests"`
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds"`

	DefaultExecTimeoutSeconds int `yaml:"default_exec_timeout_seconds"`
	MaxExecTimeoutSeconds     int `yaml:"max_exec_timeout_seconds"`

	CleanupIntervalSeconds        int `yaml:"cleanup_interval_seconds"`
	CleanupMaxContainerAgeSeconds int `yaml:"cleanup_max_container_age_seconds"`

	WorkspaceMaxFileSizeBytes int64 `yaml:"workspace_max_file_size_bytes"`

	AllowedCommands []string `yaml:"allowed_commands"`

	APIKeys      []string `yaml:"api_keys"`
	APIKeyHeader string   `yaml:"api_key_header"`
	JWTSecret    string   `yaml:"jwt_secret"`
	JWTAlgorithm string   `yaml:"jwt_algorithm"`

	ExecPoolSize int `yaml:"exec_pool_size"`

	Isolation Isolation `yaml:"isolation"`
}

// Load assembles the configuration: defaults, then an optional YAML file
// overlay (if yamlPath is non-empty and exists), then environment variable
// overrides, which always take precedence.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		ListenAddr: "127.0.0.1:8080",

		ContainerImage: "icexec-runtime:base",

		RedisAddr:     "127.0.0.1:6379",
		RedisPassword: "",
		RedisDB:       0,

		SessionTTLSeconds: 600,

		RateLimitRequests:      60,
		RateLimitWindowSeconds: 60,

		DefaultExecTimeoutSeconds: 10,
		MaxExecTimeoutSeconds:     30,

		CleanupIntervalSeconds:        60,
		CleanupMaxContainerAgeSeconds: 3600,

		WorkspaceMaxFileSizeBytes: 10 * 1024 * 1024,

		AllowedCommands: []string{
			"echo", "cat", "ls", "pwd", "python3", "python", "node", "go",
			"sh", "bash", "grep", "sed", "awk", "sort", "uniq", "wc", "head", "tail",
		},

		APIKeyHeader: "X-API-Key",
		JWTAlgorithm: "HS256",

		ExecPoolSize: 32,

		Isolation: Isolation{
			MemLimit:         "256m",
			MemswapLimit:     "256m",
			CPUPeriod:        100000,
			CPUQuota:         50000,
			PidsLimit:        50,
			TmpfsSize:        "100m",
			WorkspaceSize:    "500m",
			UlimitNofileSoft: 64,
			UlimitNofileHard: 128,
			UlimitNprocSoft:  50,
			UlimitNprocHard:  100,
			UID:              1000,
			GID:              1000,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	intv := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	int64v := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					out = append(out, p)
				}
			}
			*dst = out
		}
	}

	str("ICEXEC_LISTEN_ADDR", &cfg.ListenAddr)
	str("ICEXEC_CONTAINER_IMAGE", &cfg.ContainerImage)
	str("ICEXEC_REDIS_ADDR", &cfg.RedisAddr)
	str("ICEXEC_REDIS_PASSWORD", &cfg.RedisPassword)
	intv("ICEXEC_REDIS_DB", &cfg.RedisDB)

	intv("ICEXEC_SESSION_TTL_SECONDS", &cfg.SessionTTLSeconds)
	intv("ICEXEC_RATE_LIMIT_REQUESTS", &cfg.RateLimitRequests)
	intv("ICEXEC_RATE_LIMIT_WINDOW_SECONDS", &cfg.RateLimitWindowSeconds)
	intv("ICEXEC_DEFAULT_EXEC_TIMEOUT_SECONDS", &cfg.DefaultExecTimeoutSeconds)
	intv("ICEXEC_MAX_EXEC_TIMEOUT_SECONDS", &cfg.MaxExecTimeoutSeconds)
	intv("ICEXEC_CLEANUP_INTERVAL_SECONDS", &cfg.CleanupIntervalSeconds)
	intv("ICEXEC_CLEANUP_MAX_CONTAINER_AGE_SECONDS", &cfg.CleanupMaxContainerAgeSeconds)
	intv("ICEXEC_EXEC_POOL_SIZE", &cfg.ExecPoolSize)

	if v := os.Getenv("ICEXEC_WORKSPACE_MAX_FILE_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.WorkspaceMaxFileSizeBytes = n
		}
	}

	list("ICEXEC_ALLOWED_COMMANDS", &cfg.AllowedCommands)
	list("ICEXEC_API_KEYS", &cfg.APIKeys)
	str("ICEXEC_API_KEY_HEADER", &cfg.APIKeyHeader)
	str("ICEXEC_JWT_SECRET", &cfg.JWTSecret)
	str("ICEXEC_JWT_ALGORITHM", &cfg.JWTAlgorithm)

	str("ICEXEC_MEM_LIMIT", &cfg.Isolation.MemLimit)
	str("ICEXEC_MEMSWAP_LIMIT", &cfg.Isolation.MemswapLimit)
	int64v("ICEXEC_CPU_PERIOD", &cfg.Isolation.CPUPeriod)
	int64v("ICEXEC_CPU_QUOTA", &cfg.Isolation.CPUQuota)
	int64v("ICEXEC_PIDS_LIMIT", &cfg.Isolation.PidsLimit)
	str("ICEXEC_TMPFS_SIZE", &cfg.Isolation.TmpfsSize)
	str("ICEXEC_WORKSPACE_SIZE", &cfg.Isolation.WorkspaceSize)
	int64v("ICEXEC_UID", &cfg.Isolation.UID)
	int64v("ICEXEC_GID", &cfg.Isolation.GID)
}
