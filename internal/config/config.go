package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath   string `envconfig:"DATA_PATH" default:"/var/lib/teemux"`
	Database   string `envconfig:"DATABASE" default:""`
	LogPath    string `envconfig:"LOG_PATH" default:""`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`

	// SSH session settings
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	KeepaliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`
	KnownHosts        string        `envconfig:"KNOWN_HOSTS" default:""`
	TermType          string        `envconfig:"TERM_TYPE" default:"xterm-256color"`

	// Connection rate limiting, per host
	MaxConnectPerMinute int           `envconfig:"MAX_CONNECT_PER_MINUTE" default:"10"`
	MaxConsecFailures   int           `envconfig:"MAX_CONSEC_FAILURES" default:"5"`
	FailureBlock        time.Duration `envconfig:"FAILURE_BLOCK" default:"5m"`

	// Terminal registry settings
	DestroyGrace  time.Duration `envconfig:"DESTROY_GRACE" default:"1s"`
	ReadChunkSize int           `envconfig:"READ_CHUNK_SIZE" default:"1024"`
	EventBuffer   int           `envconfig:"EVENT_BUFFER" default:"1024"`
	LocalShell    string        `envconfig:"LOCAL_SHELL" default:""`

	// Disconnected session records are purged after SessionRetention
	SessionRetention time.Duration `envconfig:"SESSION_RETENTION" default:"1h"`
	PurgeSchedule    string        `envconfig:"PURGE_SCHEDULE" default:"@every 10m"`

	// Container exec terminals: auto, docker, kubernetes or none
	ExecBackend  string `envconfig:"EXEC_BACKEND" default:"auto"`
	DockerHost   string `envconfig:"DOCKER_HOST" default:""`
	K8sNamespace string `envconfig:"K8S_NAMESPACE" default:"default"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TEEMUX", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.Database == "" {
		Cfg.Database = filepath.Join(Cfg.DataPath, "teemux.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "teemux.log")
	}
}

// KeysDir is where generated SSH keys are written.
func KeysDir() string {
	return filepath.Join(Cfg.DataPath, "keys")
}
