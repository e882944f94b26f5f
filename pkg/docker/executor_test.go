package docker

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSplitDockerLogsSeparatesStreams(t *testing.T) {
	var multiplexed bytes.Buffer
	_, err := stdcopy.NewStdWriter(&multiplexed, stdcopy.Stdout).Write([]byte("level\tconf\n"))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&multiplexed, stdcopy.Stderr).Write([]byte("Warning: low resolution\n"))
	require.NoError(t, err)

	stdout, stderr, err := splitDockerLogs(&multiplexed)
	require.NoError(t, err)
	require.Equal(t, "level\tconf\n", stdout)
	require.Equal(t, "Warning: low resolution\n", stderr)
}

type fakeEngine struct {
	client.ContainerAPIClient

	mu         sync.Mutex
	calls      []string
	statusCh   chan container.WaitResponse
	errCh      chan error
	stdout     string
	exitStatus int64
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeEngine) ContainerCreate(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *ocispec.Platform, string) (container.CreateResponse, error) {
	f.record("create")
	return container.CreateResponse{ID: "ocr-1"}, nil
}

func (f *fakeEngine) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.record("wait")
	f.statusCh = make(chan container.WaitResponse, 1)
	f.errCh = make(chan error, 1)
	return f.statusCh, f.errCh
}

// ContainerStart exits the job at once; only a wait registered beforehand sees it.
func (f *fakeEngine) ContainerStart(context.Context, string, container.StartOptions) error {
	f.record("start")
	if f.statusCh != nil {
		f.statusCh <- container.WaitResponse{StatusCode: f.exitStatus}
	}
	return nil
}

func (f *fakeEngine) ContainerKill(context.Context, string, string) error {
	f.record("kill")
	return nil
}

func (f *fakeEngine) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	f.record("logs")
	var multiplexed bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&multiplexed, stdcopy.Stdout).Write([]byte(f.stdout)); err != nil {
		return nil, err
	}
	return io.NopCloser(&multiplexed), nil
}

func (f *fakeEngine) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.record("remove")
	return nil
}

func (f *fakeEngine) Close() error {
	return nil
}

func TestRunObservesJobThatExitsImmediately(t *testing.T) {
	fake := &fakeEngine{stdout: "5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t96\tHello\n"}
	executor := &DockerExecutor{
		client: fake,
		cfg:    Config{Timeout: time.Second, WorkingDir: "/workspace", MemoryLimitMB: 64},
		tracer: otel.Tracer("test"),
		logger: zerolog.Nop(),
	}

	out, err := executor.Run(context.Background(), Job{Image: "tesseract", Cmd: []string{"tesseract", "scan.png", "stdout", "tsv"}})
	require.NoError(t, err)
	require.Zero(t, out.ExitCode)
	require.Equal(t, fake.stdout, out.Stdout)
	require.Equal(t, []string{"create", "wait", "start", "logs", "remove"}, fake.calls)
}
