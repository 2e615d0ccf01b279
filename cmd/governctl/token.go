package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"caregov/internal/identity"
	"caregov/internal/platform/config"
	id "caregov/pkg/domain"
)

// tokenCmd mints operator tokens with the configured signing key. Only
// holders of JWT_SIGNING_KEY can run it.
func tokenCmd() *cobra.Command {
	var (
		actorID   string
		name      string
		bootstrap bool
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Identity.SigningKey == "" {
				return errors.New("JWT_SIGNING_KEY is not set")
			}
			actor := id.Actor{Name: name, Bootstrap: bootstrap}
			if actorID == "" {
				actor.ID = id.NewActorID()
			} else if actor.ID, err = id.ParseActorID(actorID); err != nil {
				return err
			}

			v := identity.NewValidator(cfg.Identity.SigningKey, cfg.Identity.Issuer, cfg.Identity.Audience)
			token, err := v.Issue(actor, "governctl", ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor ID (random when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "issue a bootstrap (superuser) token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
