// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"github.com/agubarev/bolt/pkg/util"
	"github.com/spf13/cobra"
)

var infoJSON bool

// infoCmd shows a single device by its uid
var infoCmd = &cobra.Command{
	Use:   "info <uid>",
	Short: "Show information about a device.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if err = m.Remember(cmd.Context(), p); err != nil {
			return err
		}

		if infoJSON {
			return util.PrettyPrint(cmd.OutOrStdout(), m.Config().Color, p.Snapshot())
		}

		printSnapshot(cmd.OutOrStdout(), p.Snapshot())

		return nil
	},
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "print the device as JSON")
	rootCmd.AddCommand(infoCmd)
}
