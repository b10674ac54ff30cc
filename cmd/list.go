// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listJSON bool

// listCmd prints every device the service currently exports
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the devices known to the service.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := currentCore()
		if err != nil {
			return err
		}

		r, err := m.Registry()
		if err != nil {
			return err
		}

		proxies, err := r.ListDevices(cmd.Context())
		if err != nil {
			return err
		}

		snapshots := make([]device.Snapshot, 0, len(proxies))
		for _, p := range proxies {
			snapshots = append(snapshots, p.Snapshot())

			if err := m.Remember(cmd.Context(), p); err != nil {
				m.Logger().Warn("failed to remember device", zap.String("uid", p.UID()), zap.Error(err))
			}

			p.Unbind()
		}

		if listJSON {
			return util.PrettyPrint(cmd.OutOrStdout(), m.Config().Color, snapshots)
		}

		for _, s := range snapshots {
			printSnapshot(cmd.OutOrStdout(), s)
		}

		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print devices as JSON")
	rootCmd.AddCommand(listCmd)
}

func printSnapshot(w io.Writer, s device.Snapshot) {
	title := s.Name
	if s.HasLabel && s.Label != "" {
		title = s.Label
	}

	fmt.Fprintf(w, " ● %s\n", title)
	fmt.Fprintf(w, "   ├─ type:          %s\n", s.Type)
	fmt.Fprintf(w, "   ├─ name:          %s\n", s.Name)
	fmt.Fprintf(w, "   ├─ vendor:        %s\n", s.Vendor)
	fmt.Fprintf(w, "   ├─ uuid:          %s\n", s.UID)
	fmt.Fprintf(w, "   ├─ status:        %s\n", s.Status)

	if s.Status.IsConnected() {
		fmt.Fprintf(w, "   │  ├─ connected:  %s\n", formatTime(s.ConnectTime))
	}

	if s.Status.IsAuthorized() {
		fmt.Fprintf(w, "   │  └─ authorized: %s\n", formatTime(s.AuthorizeTime))
	}

	if !s.Stored {
		fmt.Fprintf(w, "   └─ stored:        no\n\n")
		return
	}

	fmt.Fprintf(w, "   └─ stored:        %s\n", formatTime(s.StoreTime))
	fmt.Fprintf(w, "      ├─ policy:     %s\n", s.Policy)
	fmt.Fprintf(w, "      └─ key:        %s\n\n", s.KeyState)
}

func formatTime(secs uint64) string {
	if secs == 0 {
		return "no"
	}

	return time.Unix(int64(secs), 0).Format(time.RFC1123)
}
