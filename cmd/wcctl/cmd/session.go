package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wordcheck/session-agent/internal/model"
)

func (c *cli) loginCmd() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a fresh login code, or with --code",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := c.app.Manager
			var (
				sess *model.Session
				err  error
			)
			if code != "" {
				sess, err = mgr.Login(cmd.Context(), code)
			} else {
				sess, err = mgr.LoginWithNewCode(cmd.Context(), false)
			}
			if err != nil {
				return err
			}
			return c.render(cmd, c.viewOf(sess))
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "exchange this login code instead of acquiring one")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached session and the login state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.render(cmd, c.viewOf(c.app.Manager.Current(cmd.Context())))
		},
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the cached session and reset the login state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.app.Manager.Logout(cmd.Context())
			return c.render(cmd, model.LogoutResponse{Status: "logged_out"})
		},
	}
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the cached token against the auth service",
		RunE: func(cmd *cobra.Command, args []string) error {
			valid := c.app.Manager.CheckTokenValidity(cmd.Context())
			return c.render(cmd, model.ValidityResponse{Valid: valid})
		},
	}
}

func (c *cli) profileCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the user profile, refreshing it when stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := c.app.Manager
			var (
				profile model.UserProfile
				err     error
			)
			if force {
				profile, err = mgr.FetchProfile(cmd.Context())
			} else {
				profile, err = mgr.RefreshProfileIfNeeded(cmd.Context())
			}
			if err != nil {
				return err
			}
			return c.render(cmd, model.ProfileResponse{UserInfo: profile})
		},
	}
	cmd.Flags().BoolVar(&force, "refresh", false, "always fetch from the auth service")
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries from the login code ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed := c.app.Manager.Sweep(cmd.Context())
			return c.render(cmd, sweepView{
				Removed: removed,
				Left:    len(c.app.Manager.Ledger().Entries(cmd.Context())),
			})
		},
	}
}
