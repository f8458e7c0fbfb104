package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gluk-w/teemux/internal/database"
)

const settingBackend = "exec_backend"

var (
	current ExecBackend
	mu      sync.RWMutex

	newKubernetes = func() ExecBackend { return &KubernetesBackend{} }
	newDocker     = func() ExecBackend { return &DockerBackend{} }
)

// Init selects the exec backend. "auto" tries the backend that worked last
// time first, then Kubernetes, then Docker. "none" disables exec terminals.
func Init(ctx context.Context, backend string) error {
	if backend == "" {
		backend = "auto"
	}
	if backend == "none" {
		log.Println("[exec] exec terminals disabled")
		return nil
	}

	var candidates []func() ExecBackend
	switch backend {
	case "kubernetes":
		candidates = append(candidates, newKubernetes)
	case "docker":
		candidates = append(candidates, newDocker)
	case "auto":
		candidates = append(candidates, newKubernetes, newDocker)
		if lastBackend() == "docker" {
			candidates = []func() ExecBackend{newDocker, newKubernetes}
		}
	default:
		return fmt.Errorf("unknown exec backend %q", backend)
	}

	for _, create := range candidates {
		b := create()
		if err := b.Initialize(ctx); err != nil {
			log.Printf("[exec] %s backend unavailable: %v", b.BackendName(), err)
			continue
		}
		if !b.IsAvailable(ctx) {
			continue
		}
		Set(b)
		log.Printf("[exec] using %s backend", b.BackendName())
		if backend == "auto" && database.DB != nil {
			if err := database.SetSetting(settingBackend, b.BackendName()); err != nil {
				log.Printf("[exec] remember backend: %v", err)
			}
		}
		return nil
	}

	log.Println("[exec] WARNING: no exec backend available")
	return fmt.Errorf("no exec backend available (tried: %s)", backend)
}

func lastBackend() string {
	if database.DB == nil {
		return ""
	}
	last, err := database.GetSetting(settingBackend)
	if err != nil {
		return ""
	}
	return last
}

func Get() ExecBackend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set replaces the active backend. Passing nil disables exec terminals.
func Set(b ExecBackend) {
	mu.Lock()
	defer mu.Unlock()
	current = b
}
