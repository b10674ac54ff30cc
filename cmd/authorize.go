// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"fmt"

	"github.com/agubarev/bolt/internal/config"
	"github.com/agubarev/bolt/pkg/device"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var authFlags string

// authorizeCmd asks the service to authorize a device
var authorizeCmd = &cobra.Command{
	Use:   "authorize <uid>",
	Short: "Authorize a device.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := device.DecodeAuthFlags(authFlags)
		if err != nil {
			return err
		}

		m, err := currentCore()
		if err != nil {
			return err
		}

		r, err := m.Registry()
		if err != nil {
			return err
		}

		p, err := r.DeviceByUID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		defer p.Unbind()

		err = p.Authorize(cmd.Context(), flags, m.Config().Timeout)

		var aerr *device.AuthorizeError
		if errors.As(err, &aerr) && aerr.Retryable() {
			return errors.Wrap(err, "authorization did not complete, it may be retried")
		}

		if err != nil {
			return err
		}

		if err = m.Remember(cmd.Context(), p); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: authorized with flags %s\n", p.UID(), flags)

		return nil
	},
}

func init() {
	authorizeCmd.Flags().StringVar(&authFlags, "flags", "none", "authorization flags, e.g. \"secure | nopcie\"")
	authorizeCmd.Flags().Duration("timeout", config.DefaultTimeout, "give up waiting for the service after this long")

	if err := v.BindPFlag(config.KeyTimeout, authorizeCmd.Flags().Lookup("timeout")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(authorizeCmd)
}
