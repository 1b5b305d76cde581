package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

var (
	ErrClusterUnreachable = errors.New("no cluster member answered")
	ErrModeMismatch       = errors.New("cluster mode does not match requested mode")
)

// VerifyMode asks members for their mode until one answers and compares it
// with expected. A nil error means traffic may start.
func VerifyMode(ctx context.Context, client *Client, targets []Target, expected Mode, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	for _, t := range targets {
		got, err := client.Mode(ctx, t)
		if err != nil {
			logger.Debug("mode probe failed", "target", t.String(), "error", err)
			continue
		}
		if got != expected {
			return fmt.Errorf("%w: %s reports %s, requested %s", ErrModeMismatch, t, got, expected)
		}
		logger.Info("cluster mode verified", "target", t.String(), "mode", got)
		return nil
	}
	return fmt.Errorf("%w: mode check on %d targets", ErrClusterUnreachable, len(targets))
}

// Liveness fetches the member status map from the first member that answers.
func Liveness(ctx context.Context, client *Client, targets []Target) (map[string]bool, Target, error) {
	for _, t := range targets {
		status, err := client.Status(ctx, t)
		if err == nil {
			return status, t, nil
		}
	}
	return nil, Target{}, ErrClusterUnreachable
}
