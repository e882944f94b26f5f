package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrTimedOut is returned when a job exceeds its deadline.
var ErrTimedOut = errors.New("sandbox job timed out")

var (
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grader",
		Subsystem: "sandbox",
		Name:      "job_duration_seconds",
		Help:      "Duration of sandboxed container jobs",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
	}, []string{"image"})

	jobTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grader",
		Subsystem: "sandbox",
		Name:      "job_timeouts_total",
		Help:      "Number of sandboxed jobs that hit the timeout",
	}, []string{"image"})

	jobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grader",
		Subsystem: "sandbox",
		Name:      "job_failures_total",
		Help:      "Number of sandboxed jobs that could not be run",
	}, []string{"image"})
)

// Executor runs a one-shot command inside an isolated container.
type Executor interface {
	Run(ctx context.Context, job Job) (Output, error)
}

// Job describes one sandboxed command. Workspace is bind-mounted read-only at the
// executor's working directory; the container has no network and a read-only root.
type Job struct {
	Image         string
	Cmd           []string
	Env           []string
	Workspace     string
	Timeout       time.Duration
	MemoryLimitMB int64
}

// Output is what the container printed and how it exited.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Config groups executor configuration values.
type Config struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	WorkingDir    string
	Logger        zerolog.Logger
}

// engine is the part of the Docker API the executor drives.
type engine interface {
	client.ContainerAPIClient
	Close() error
}

// DockerExecutor implements Executor with the Docker engine API.
type DockerExecutor struct {
	client engine
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerExecutor constructs a Docker backed executor.
func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/workspace"
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = 512
	}

	return &DockerExecutor{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/docker"),
		logger: cfg.Logger.With().Str("component", "docker_executor").Logger(),
	}, nil
}

// WorkingDir is where job workspaces are mounted inside the container.
func (e *DockerExecutor) WorkingDir() string {
	return e.cfg.WorkingDir
}

// Run creates, starts and waits for a container, then collects its logs.
func (e *DockerExecutor) Run(parent context.Context, job Job) (Output, error) {
	image := job.Image
	if image == "" {
		return Output{}, errors.New("image is required")
	}

	ctx, span := e.tracer.Start(parent, "docker.executor.run", trace.WithAttributes(
		attribute.String("docker.image", image),
	))
	defer span.End()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	memoryMB := job.MemoryLimitMB
	if memoryMB <= 0 {
		memoryMB = e.cfg.MemoryLimitMB
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory: memoryMB * 1024 * 1024,
		},
	}
	if job.Workspace != "" {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   job.Workspace,
			Target:   e.cfg.WorkingDir,
			ReadOnly: true,
		})
	}

	containerCfg := &container.Config{
		Image:           image,
		Cmd:             job.Cmd,
		Env:             job.Env,
		WorkingDir:      e.cfg.WorkingDir,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}

	start := time.Now()
	output := Output{}

	resp, err := e.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		jobFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return output, fmt.Errorf("container create: %w", err)
	}

	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	// Registered before start so a job that exits immediately is still observed.
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		jobFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return output, fmt.Errorf("container start: %w", err)
	}

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		output.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	output.Duration = time.Since(start)
	jobDuration.WithLabelValues(image).Observe(output.Duration.Seconds())

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) {
			jobTimeouts.WithLabelValues(image).Inc()
			killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := e.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
				e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
			}
			span.RecordError(waitErr)
			span.SetStatus(codes.Error, "job timed out")
			return output, fmt.Errorf("%w after %s", ErrTimedOut, timeout)
		}
		jobFailures.WithLabelValues(image).Inc()
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, waitErr.Error())
		return output, fmt.Errorf("container wait: %w", waitErr)
	}

	logReader, err := e.client.ContainerLogs(parent, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		span.RecordError(err)
		return output, fmt.Errorf("container logs: %w", err)
	}
	defer logReader.Close()

	stdout, stderr, err := splitDockerLogs(logReader)
	if err != nil {
		span.RecordError(err)
		return output, fmt.Errorf("read container logs: %w", err)
	}
	output.Stdout = stdout
	output.Stderr = stderr

	span.SetAttributes(attribute.Int("docker.exit_code", output.ExitCode))
	return output, nil
}

func splitDockerLogs(reader io.Reader) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Close shuts down the executor's underlying client.
func (e *DockerExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
