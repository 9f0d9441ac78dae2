package cmd

import (
	"github.com/cmoscardi/textbook-tts/service/worker"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Textbook TTS pipeline queue.",
	Long:  `Textbook TTS pipeline queue.`,
	Run: func(cmd *cobra.Command, args []string) {
		worker.Run()
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
}
