package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// CLI flag variables
var (
	// Backup location flags
	backupDir string
	dataPaths []string

	// Operation flags
	compression   string
	retentionDays int
	verbose       bool
	quiet         bool
	logFile       string

	// Output flags
	noColor      bool
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "datavault",
	Short: "Backup, restore and disaster recovery for local data directories",
	Long: `DataVault protects local data directories with full and incremental
backups, verifiable archives, scheduled runs and guided disaster recovery.

Incremental backups are detected by content checksum, so touched-but-unchanged
files never inflate a backup. Every archive embeds its own manifest and can be
verified without being restored.

Examples:
  # Create a full backup of two data directories
  datavault backup create --type full --data-path ./data --data-path ./state

  # List existing backups
  datavault backup list --backup-dir ./backups

  # Restore the most recent backup into a scratch directory
  datavault restore latest --dest ./restored

  # Run scheduled backups (daily full at 02:00, hourly incrementals)
  datavault schedule run --full-hour 2 --incremental-minute 0

  # Check data health and plan a recovery
  datavault health check
  datavault health plan data_corruption`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.datavault.yaml)")

	// Backup location flags
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "directory holding backup artifacts")
	rootCmd.PersistentFlags().StringSliceVar(&dataPaths, "data-path", nil, "data file or directory to protect (repeatable)")

	// Operation flags
	rootCmd.PersistentFlags().StringVar(&compression, "compression", "", "archive compression (GZIP, ZSTD, LZ4, NONE)")
	rootCmd.PersistentFlags().IntVar(&retentionDays, "retention-days", 0, "days to keep backups before cleanup (default 30)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file as well as stdout")

	// Output flags
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "output format (text, json, yaml)")

	// Bind flags to viper
	viper.BindPFlag("backup_dir", rootCmd.PersistentFlags().Lookup("backup-dir"))
	viper.BindPFlag("data_paths", rootCmd.PersistentFlags().Lookup("data-path"))
	viper.BindPFlag("compression", rootCmd.PersistentFlags().Lookup("compression"))
	viper.BindPFlag("retention_days", rootCmd.PersistentFlags().Lookup("retention-days"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("output_format", rootCmd.PersistentFlags().Lookup("format"))
}

// validateFlags validates CLI flags and their combinations
func validateFlags() error {
	if verbose && quiet {
		return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	switch outputFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid output format %q, must be one of: text, json, yaml", outputFormat)
	}

	return nil
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".datavault" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".datavault")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("DATAVAULT")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for datavault",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("datavault version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

Examples:
  # Generate a config file
  datavault config > .datavault.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			sampleConfig := `# DataVault Configuration File

# Where backup artifacts and tracking state live
backup_dir: ./backups

# Data files or directories to protect
data_paths:
  - ./data
  - ./state

# Days to keep backups; cleanup always keeps the newest few regardless of age
retention_days: 30

# Archive compression: GZIP (default), ZSTD, LZ4 or NONE (directory tree)
compression: GZIP

# Which files to back up. "*suffix" patterns match name suffixes, anything
# else matches as a substring. Files without an extension are always included.
include_patterns:
  - "*.json"
  - "*.jsonl"
  - "*.db"
  - "*.sqlite"
  - "*.csv"
exclude_patterns:
  - "*.log"
  - "*.tmp"
  - "*.bak"
  - ".git"
  - node_modules

# Optional at-rest encryption of archives (AES-256-GCM)
encryption:
  enabled: false
  key_source: env          # env, file or passphrase
  key_env_var: DATAVAULT_ENCRYPTION_KEY
  key_path: ""

# Logging
log_file: ""
verbose: false
quiet: false

# Environment variable examples (prefix DATAVAULT_):
# DATAVAULT_BACKUP_DIR=/var/backups/datavault
# DATAVAULT_RETENTION_DAYS=14
# DATAVAULT_COMPRESSION=ZSTD
`
			fmt.Print(sampleConfig)
		},
	}
}

func init() {
	// Add subcommands
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}
