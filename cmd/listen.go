// cmd/listen.go
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/notedetect/internal/config"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Detect notes from the capture device",
	Long: `Listen on the configured capture device and print each confirmed note.
Detection settings in the config file are reloaded while running.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func runListen(cmd *cobra.Command, _ []string) error {
	session, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			slog.Warn("session close", "error", cerr)
		}
	}()

	config.Watch(session.Reload)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return session.Listen(ctx)
}
