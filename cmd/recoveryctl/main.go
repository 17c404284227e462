package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unclebandit/cart-recovery-service/internal/app"
	"github.com/unclebandit/cart-recovery-service/internal/auth"
	"github.com/unclebandit/cart-recovery-service/internal/config"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
	"github.com/unclebandit/cart-recovery-service/internal/repository"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

// runtime is what the commands operate on. Tests swap the opener for one
// backed by the in-memory store.
type runtime struct {
	Scheduler service.Drainer
	Auth      *auth.Authenticator
	Clients   repository.APIClientRepositoryInterface
	Close     func() error
}

type opener func(ctx context.Context) (*runtime, error)

func openApp(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// keep stdout for command output
	log := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat), "recoveryctl").Output(os.Stderr)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &runtime{
		Scheduler: a.Pipeline.Scheduler,
		Auth:      a.Auth,
		Clients:   a.APIClients,
		Close:     a.Close,
	}, nil
}

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "recoveryctl",
		Short:         "Operate the cart recovery pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(drainCmd(open))
	root.AddCommand(sweepCmd(open))
	root.AddCommand(clientsCmd(open))
	return root
}

func withRuntime(cmd *cobra.Command, open opener, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := open(ctx)
	if err != nil {
		return err
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(ctx, rt)
}
