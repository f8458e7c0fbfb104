package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"

	"github.com/gluk-w/teemux/internal/config"
	"github.com/gluk-w/teemux/internal/logutil"
)

type DockerBackend struct {
	client    *dockerclient.Client
	available bool
}

func (d *DockerBackend) Initialize(ctx context.Context) error {
	var opts []dockerclient.Opt
	opts = append(opts, dockerclient.FromEnv)
	opts = append(opts, dockerclient.WithAPIVersionNegotiation())
	if config.Cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(config.Cfg.DockerHost))
	}

	var err error
	d.client, err = dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	if _, err := d.client.Ping(ctx); err != nil {
		d.client.Close()
		return fmt.Errorf("docker ping: %w", err)
	}

	d.available = true
	log.Println("[exec] Docker daemon connected")
	return nil
}

func (d *DockerBackend) IsAvailable(_ context.Context) bool {
	return d.available
}

func (d *DockerBackend) BackendName() string {
	return "docker"
}

func (d *DockerBackend) ExecInteractive(ctx context.Context, target string, cmd []string, rows, cols uint16) (*ExecStream, error) {
	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		Env:          []string{"TERM=" + termType()},
		ConsoleSize:  &[2]uint{uint(rows), uint(cols)},
	}

	execID, err := d.client.ContainerExecCreate(ctx, target, execCfg)
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	resp, err := d.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	log.Printf("[exec] docker exec %s in %s", shortID(execID.ID), logutil.SanitizeForLog(target))

	// Resizes happen long after the request that opened the exec is gone.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// With a TTY the hijacked connection carries raw bytes, no stdcopy
	// framing. Reads go through resp.Reader so buffered bytes are not lost.
	return newExecStream(resp.Reader, resp.Conn,
		func(rows, cols uint16) error {
			rctx, rcancel := context.WithTimeout(streamCtx, 5*time.Second)
			defer rcancel()
			return d.client.ContainerExecResize(rctx, execID.ID, container.ResizeOptions{
				Width:  uint(cols),
				Height: uint(rows),
			})
		},
		func() error {
			cancel()
			resp.Close()
			return nil
		},
	), nil
}

func termType() string {
	if config.Cfg.TermType != "" {
		return config.Cfg.TermType
	}
	return "xterm-256color"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
