package failover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"cabinetbench/internal/cluster"
)

var (
	ErrUnmappedTarget  = errors.New("target has no runtime identity")
	ErrInjectionFailed = errors.New("failure injection failed")
)

// Killer terminates a node by its runtime identity.
type Killer interface {
	Kill(ctx context.Context, identity string) error
}

// DockerKiller runs "<Command> kill <identity>". Command defaults to docker;
// any CLI with the same verb (podman, nerdctl) works.
type DockerKiller struct {
	Command string
}

func (k DockerKiller) Kill(ctx context.Context, identity string) error {
	bin := k.Command
	if bin == "" {
		bin = "docker"
	}
	cmd := exec.CommandContext(ctx, bin, "kill", identity)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s kill %s: %w: %s", bin, identity, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// IdentityTable maps a target's port to its container/process identity.
type IdentityTable map[string]string

// DefaultIdentities is the stock five-node compose layout.
func DefaultIdentities() IdentityTable {
	return IdentityTable{
		"8081": "node0",
		"8082": "node1",
		"8083": "node2",
		"8084": "node3",
		"8085": "node4",
	}
}

// Validate fails on the first target without an entry.
func (t IdentityTable) Validate(targets []cluster.Target) error {
	for _, tg := range targets {
		if _, err := t.Resolve(tg); err != nil {
			return err
		}
	}
	return nil
}

func (t IdentityTable) Resolve(tg cluster.Target) (string, error) {
	id, ok := t[tg.Port]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %s", ErrUnmappedTarget, tg)
	}
	return id, nil
}
