// Lumi is a voice journaling companion: it listens, reflects back, and asks
// one gentle question at a time.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/normanking/lumi/internal/config"
	"github.com/normanking/lumi/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool

	loader *config.Loader
	cfg    *config.Config
	logs   *logging.Logger
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	lumiStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

var rootCmd = &cobra.Command{
	Use:   "lumi",
	Short: "Lumi - a voice journaling companion",
	Long: `Lumi listens while you talk through your day, reflects back what it
heard and asks one follow-up question at a time.

Run "lumi serve" to start the realtime server, or "lumi turn" to replay a
recorded entry from a WAV file.`,
	SilenceUsage:      true,
	PersistentPreRunE: initRuntime,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: ~/.lumi/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(turnCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// initRuntime loads .env, the config file and the logger.
func initRuntime(cmd *cobra.Command, args []string) error {
	// A missing .env is normal.
	_ = godotenv.Load()

	loader = config.NewLoader(cfgPath)
	loaded, err := loader.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	level := logging.Level(cfg.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}
	logs, err = logging.New(&logging.Config{
		Dir:     cfg.Logging.Dir,
		Level:   level,
		Console: cfg.Logging.Console || verbose,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

func init() {
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration without secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Run: func(cmd *cobra.Command, args []string) {
			if f := loader.File(); f != "" {
				fmt.Println(f)
				return
			}
			fmt.Println(dimStyle.Render("no config file, using defaults"))
		},
	})
}
