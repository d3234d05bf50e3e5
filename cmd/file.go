// cmd/file.go
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var fileCmd = &cobra.Command{
	Use:   "file <path.wav>",
	Short: "Detect notes in a WAV file",
	Long: `Run detection over a 16, 24 or 32-bit PCM WAV file. Multichannel audio
is mixed down to mono. The file's own sample rate is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func runFile(cmd *cobra.Command, args []string) error {
	session, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			slog.Warn("session close", "error", cerr)
		}
	}()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return session.RunFile(ctx, args[0])
}
