// Command studio runs the studio backend and its terminal tools.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	studio serve              # REST + websocket API on :8080
//	studio chat               # terminal chat client
//	studio gallery            # print the gallery tree
//	studio backup out.json    # export the snapshot
//	studio restore out.json   # import a snapshot
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/studio/pkg/config"
)

func main() {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:           "studio",
		Short:         "AI studio backend: chat, generation and a media gallery",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			return a.init(cfgFile)
		},
	}
	config.AddFlags(rootCmd, a.v)

	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newChatCmd(a))
	rootCmd.AddCommand(newGalleryCmd(a))
	rootCmd.AddCommand(newModelsCmd(a))
	rootCmd.AddCommand(newBackupCmd(a))
	rootCmd.AddCommand(newRestoreCmd(a))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
