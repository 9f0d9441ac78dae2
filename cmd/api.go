package cmd

import (
	"github.com/cmoscardi/textbook-tts/service/api"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "api",
	Short: "Textbook TTS API service.",
	Long:  `Textbook TTS API service.`,
	Run: func(cmd *cobra.Command, args []string) {
		api.Run()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
