package main

import (
	"dyslexiareader/internal/cli/scheme/colours"
	"dyslexiareader/internal/config"
	"dyslexiareader/internal/reader"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {

	config.Init()

	settings, err := config.Load()
	if err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.ConfigureLogging(settings.Log); err != nil {
		logrus.WithError(err).Warn("Invalid log settings, using defaults")
	}

	app := reader.NewReader(settings)
	config.Watch(app.ApplySettings)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		app.Cancel()
		fmt.Println("\n" + colours.Warning.Sprint("👋 Goodbye! Happy reading! 📚"))
		os.Exit(0)
	}()

	rootCmd := &cobra.Command{
		Use:   "dyslexiareader",
		Short: "📖 Read text aloud with adjustable voice and pace",
		Long: `
┌─────────────────────────────────────┐
│  📖 Welcome to Dyslexia Reader!     │
│  Listen along while you read        │
└─────────────────────────────────────┘

Dyslexia Reader narrates text files and Project Gutenberg books with
pause, resume, voice selection and live reading speed changes.
		`,
		Run: func(cmd *cobra.Command, args []string) {
			app.ShowWelcome()
		},
	}

	// Read command
	readCmd := &cobra.Command{
		Use:   "read [file]",
		Short: "🎧 Read a document aloud",
		Long:  "Narrate a text file or a Project Gutenberg book with interactive controls",
		Args:  cobra.MaximumNArgs(1),
		Run:   app.ReadDocument,
	}

	// Voices command
	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "🎤 List narration voices",
		Long:  "Display the voices offered for narration",
		Run:   app.ListVoices,
	}

	// Settings command
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "⚙️ Show settings",
		Long:  "Print the effective settings from defaults, config file and environment",
		Run:   app.ShowSettings,
	}

	// Clear audio command
	clearAudioCmd := &cobra.Command{
		Use:   "clear-audio",
		Short: "🧹 Clear synthesized audio",
		Long:  "Remove narration audio cached on disk by the engine",
		Run:   app.ClearAudioCache,
	}

	// Add flags
	engineUsage := reader.EngineUsage()
	readCmd.Flags().StringP("gutenberg", "g", "", "Project Gutenberg book id to read")
	readCmd.Flags().StringP("voice", "v", "", "Voice to use for reading. See voices for options")
	readCmd.Flags().Float64P("rate", "r", 0, "Reading speed between 0.1 and 3.0")
	readCmd.Flags().StringP("engine", "e", "", engineUsage)
	voicesCmd.Flags().BoolP("all", "a", false, "List every voice the engine offers")
	voicesCmd.Flags().StringP("engine", "e", "", engineUsage)
	clearAudioCmd.Flags().StringP("engine", "e", "", engineUsage)

	rootCmd.AddCommand(readCmd, voicesCmd, settingsCmd, clearAudioCmd)

	// Add Gutenberg commands
	app.AddGutenbergCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
}
