package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ehrlogin/internal/domain/authn"
	"github.com/ehr/ehrlogin/internal/domain/login"
	"github.com/ehr/ehrlogin/internal/tui"
)

const maxLoginAttempts = 3

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in from the terminal and choose a session location",
		RunE: func(cmd *cobra.Command, args []string) error {
			logout, _ := cmd.Flags().GetBool("logout")
			return runLogin(cmd.Context(), logout)
		},
	}
	cmd.Flags().Bool("logout", false, "End the backend session once a location is committed")
	return cmd
}

func runLogin(ctx context.Context, logout bool) error {
	if !tui.IsInteractive() {
		return errors.New("login needs an interactive terminal")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.close()

	out := os.Stdout
	tui.Title(out, "EHR login")
	tui.Field(out, "Backend", cfg.RestBaseURL())

	p := tui.HuhPrompter{}
	svc := comps.service

	var res *login.Result
	for attempt := 1; ; attempt++ {
		username, password, err := p.Credentials()
		if err != nil {
			return err
		}
		res, err = svc.Login(ctx, login.Credentials{Username: username, Password: password})
		if err == nil {
			break
		}
		if errors.Is(err, authn.ErrInvalidCredentials) && attempt < maxLoginAttempts {
			tui.Failure(out, "Invalid username or password")
			continue
		}
		return err
	}

	switch res.Status {
	case login.StatusExternal:
		tui.Banner(out, "Log in through your identity provider")
		tui.Field(out, "Login URL", res.Redirect)
		return nil
	case login.StatusSelectLocation:
		if res.Notice != "" {
			tui.Banner(out, res.Notice)
		}
		redirect, err := tui.RunPicker(ctx, p, svc, res.WorkflowID, out)
		if err != nil {
			endWorkflow(ctx, comps, res, logger)
			return err
		}
		res.Redirect = redirect
	case login.StatusRedirect:
		if res.Location != nil {
			tui.Success(out, fmt.Sprintf("Using your default location %s", res.Location.Display))
		}
	}

	if sess, err := svc.Session(res.WorkflowID); err == nil {
		tui.Field(out, "User", sess.UserUUID())
		tui.Field(out, "Location", sess.LocationUUID())
	}
	tui.Field(out, "Redirect", res.Redirect)

	if logout {
		endWorkflow(ctx, comps, res, logger)
		tui.Success(out, "Logged out")
	}
	return nil
}

// endWorkflow logs the workflow out, which also ends the backend session.
func endWorkflow(ctx context.Context, comps *components, res *login.Result, logger zerolog.Logger) {
	claims, err := comps.issuer.Parse(res.Token)
	if err != nil {
		logger.Warn().Err(err).Msg("workflow token rejected")
		return
	}
	logoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := comps.service.Logout(logoutCtx, res.WorkflowID, claims); err != nil {
		logger.Warn().Err(err).Msg("logout failed")
	}
}
