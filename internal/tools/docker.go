package tools

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// sandboxWorkDir is the path run_command's working directory is bind-mounted
// to inside the container, matching what config.ShellConfig's sandbox fields
// describe as "the command's working dir" to the model.
const sandboxWorkDir = "/workspace"

// DockerSandbox is the Destructive-tier ShellExecutor: it runs each
// run_command invocation in its own ephemeral container instead of on the
// host, so a deny-list bypass or an outright malicious command can't touch
// the host filesystem or network. Built once per process from
// config.ShellConfig and handed to tools.RunCommandTool.
type DockerSandbox struct {
	client      *client.Client
	image       string
	memoryMB    int64
	networkMode string
}

// NewDockerSandbox dials the local Docker daemon and validates cfg, applying
// the same defaults buildToolRegistry would otherwise need to duplicate:
// golang:alpine, 512MB, and a network-less sandbox unless overridden.
func NewDockerSandbox(image string, memoryMB int64, networkMode string) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	if image == "" {
		image = "golang:alpine"
	}
	if memoryMB <= 0 {
		memoryMB = 512
	}
	if networkMode == "" {
		networkMode = "none"
	}

	return &DockerSandbox{
		client:      cli,
		image:       image,
		memoryMB:    memoryMB * 1024 * 1024,
		networkMode: networkMode,
	}, nil
}

// Exec runs cmd in a fresh container bind-mounting workDir (when given) to
// sandboxWorkDir, satisfying the same ShellExecutor contract HostExecutor
// does.
func (d *DockerSandbox) Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error) {
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory: d.memoryMB,
		},
		NetworkMode: container.NetworkMode(d.networkMode),
		AutoRemove:  true,
	}
	if workDir != "" {
		hostCfg.Binds = []string{fmt.Sprintf("%s:%s", workDir, sandboxWorkDir)}
	}

	resp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:      d.image,
		Cmd:        []string{"sh", "-c", cmd},
		WorkingDir: sandboxWorkDir,
		Tty:        false,
	}, hostCfg, nil, nil, "")

	if err != nil {
		return "", "", -1, fmt.Errorf("create container: %w", err)
	}

	containerID := resp.ID

	// 2. Start container
	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", "", -1, fmt.Errorf("start container: %w", err)
	}

	// 3. Wait for completion
	statusCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return "", "", -1, fmt.Errorf("wait container error: %w", err)
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		// Force kill on timeout
		_ = d.client.ContainerKill(ctx, containerID, "SIGKILL")
		return "", "command timed out", -1, ctx.Err()
	}

	// 4. Get logs
	out, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", exitCode, fmt.Errorf("get logs: %w", err)
	}
	defer out.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, out)

	// Redaction and truncation happen once, in RunCommandTool.Execute, the
	// same as for HostExecutor output — this executor only needs to return
	// the raw container logs.
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Close closes the docker client.
func (d *DockerSandbox) Close() error {
	return d.client.Close()
}
