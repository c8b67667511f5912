package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/chatclient/internal/config"
	"github.com/zhouzirui/z-tavern/chatclient/internal/logging"
)

var (
	// Global flags
	envFile string
	verbose bool

	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Realtime direct messaging and presence client",
	Long: `chatclient connects to the chat backend over STOMP/WebSocket, keeps the
friend presence list current and lets you talk to one friend at a time.

Configuration is read from the environment (optionally a .env file) and an
optional YAML file named by CHAT_CONFIG_FILE.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil {
			logrus.WithError(err).Debug("no .env file loaded, using process environment only")
		}

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if verbose {
			loaded.Log.Level = "debug"
		}

		l, err := logging.New(loaded.Log)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(presenceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(meCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
