package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// TokenCmd groups the credential subcommands. The credential is written to
// stdout only; log output carries its fingerprint.
type TokenCmd struct {
	Show   TokenShowCmd   `cmd:"" help:"Print the shared credential, generating one if none exists."`
	Rotate TokenRotateCmd `cmd:"" help:"Replace the shared credential and print the new value."`
}

type TokenShowCmd struct {
	Fingerprint bool `help:"Print only the fingerprint instead of the credential."`
}

func (c *TokenShowCmd) Run(ctx context.Context, g *Globals) error {
	a, err := bootstrap(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()

	if err := provision(ctx, a); err != nil {
		return err
	}
	cred, err := a.creds.Credential(ctx)
	if err != nil {
		return err
	}
	if c.Fingerprint {
		fmt.Fprintln(os.Stdout, cred.Fingerprint())
		return nil
	}
	fmt.Fprintln(os.Stdout, string(cred))
	return nil
}

type TokenRotateCmd struct{}

func (c *TokenRotateCmd) Run(ctx context.Context, g *Globals) error {
	a, err := bootstrap(ctx, g)
	if err != nil {
		return err
	}
	defer a.close()

	if a.settings.Auth.Token != "" {
		return errors.New("auth.token is set in configuration; change it there instead of rotating")
	}
	cred, err := a.creds.Rotate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(cred))
	fmt.Fprintln(os.Stderr, "credential rotated; a running agent uses it from the next request, update the monitoring service now")
	return nil
}
