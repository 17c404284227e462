package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unclebandit/cart-recovery-service/internal/auth"
	"github.com/unclebandit/cart-recovery-service/internal/model"
)

func clientsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage API clients",
	}
	cmd.AddCommand(createClientCmd(open))
	cmd.AddCommand(revokeClientCmd(open))
	return cmd
}

func createClientCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API client token",
		Long: `Issue a new API client. The token is printed once and only its
SHA-256 hash is stored.

Scopes: sessions:read, sessions:write, attempts:write, config:read, pipeline:run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			rawScopes, _ := cmd.Flags().GetStringSlice("scope")
			scopes, err := auth.ParseScopes(rawScopes)
			if err != nil {
				return err
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				client, token, err := rt.Auth.IssueClient(ctx, name, scopes)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:     %d\n", client.ID)
				fmt.Fprintf(out, "name:   %s\n", client.Name)
				fmt.Fprintf(out, "scopes: %s\n", joinScopes(client.Scopes))
				fmt.Fprintf(out, "token:  %s\n", token)
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "Client name")
	cmd.Flags().StringSlice("scope", nil, "Granted scope, repeatable or comma separated")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("scope")
	return cmd
}

func revokeClientCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Deactivate an API client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt("id")
			if id <= 0 {
				return fmt.Errorf("--id must be positive")
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				ok, err := rt.Clients.Deactivate(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no active client with id %d", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked client %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Int("id", 0, "Client id")
	cmd.MarkFlagRequired("id")
	return cmd
}

func joinScopes(scopes []model.Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
