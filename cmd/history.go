// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"fmt"
	"time"

	"github.com/agubarev/bolt/pkg/util"
	"github.com/spf13/cobra"
)

var historyJSON bool

// historyCmd lists devices remembered in the identity store
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List every device seen so far (requires --store-dir).",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := currentCore()
		if err != nil {
			return err
		}

		s, err := m.Store()
		if err != nil {
			return err
		}

		ids, err := s.List(cmd.Context())
		if err != nil {
			return err
		}

		if historyJSON {
			return util.PrettyPrint(cmd.OutOrStdout(), m.Config().Color, ids)
		}

		for _, id := range ids {
			fmt.Fprintf(
				cmd.OutOrStdout(),
				"%s  %-24s %-16s first %s, last %s\n",
				id.UID,
				id.Name,
				id.Vendor,
				id.FirstSeen.Format(time.RFC3339),
				id.LastSeen.Format(time.RFC3339),
			)
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print identities as JSON")
	rootCmd.AddCommand(historyCmd)
}
