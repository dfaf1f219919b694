package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"datavault/internal/backup"
	"datavault/internal/logging"
	"datavault/internal/recovery"
	"datavault/internal/restore"
)

// buildBackupConfig builds the backup configuration from the config file,
// environment and CLI flags. Flags win over the file.
func buildBackupConfig() (*backup.Config, error) {
	config := &backup.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if backupDir != "" {
		config.BackupDir = backupDir
	}
	if len(dataPaths) > 0 {
		config.DataPaths = dataPaths
	}
	if compression != "" {
		config.Compression = backup.CompressionType(strings.ToUpper(compression))
	}
	if retentionDays > 0 {
		config.RetentionDays = retentionDays
	}

	if config.Encryption.Enabled && config.Encryption.KeySource == "passphrase" {
		passphrase, err := promptPassphrase()
		if err != nil {
			return nil, err
		}
		config.Encryption.Passphrase = passphrase
	}

	return config, nil
}

// newLogger builds the shared logger from the global flags
func newLogger() (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}

	return logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stderr,
		Format:  "text",
		LogFile: logFile,
	})
}

// managers is the wired set of subsystem managers the subcommands work with
type managers struct {
	logger   *logging.Logger
	backups  *backup.Manager
	restorer *restore.Manager
	recovery *recovery.Manager
}

// newManagers validates flags and wires the subsystems together
func newManagers() (*managers, error) {
	if err := validateFlags(); err != nil {
		return nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	config, err := buildBackupConfig()
	if err != nil {
		return nil, err
	}

	backups, err := backup.NewManager(config, logger)
	if err != nil {
		return nil, err
	}

	restorer := restore.NewManager(backups, logger)
	return &managers{
		logger:   logger,
		backups:  backups,
		restorer: restorer,
		recovery: recovery.NewManager(backups, restorer, logger),
	}, nil
}

// promptPassphrase reads the encryption passphrase from the terminal
// without echoing it.
func promptPassphrase() (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", fmt.Errorf("encryption passphrase required but stdin is not a terminal; use key_source env or file")
	}
	fmt.Fprint(os.Stderr, "Encryption passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("passphrase cannot be empty")
	}
	return string(raw), nil
}

// colorsEnabled reports whether the text renderer may use color
func colorsEnabled() bool {
	return !noColor && isatty.IsTerminal(os.Stdout.Fd())
}

// statusColors for text output
var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgCyan, color.Bold)
)

// printStructured renders v as JSON or YAML when --format asks for it.
// Returns false when the caller should render text instead.
func printStructured(v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		fmt.Println(string(data))
		return true, nil
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}
		fmt.Print(string(data))
		return true, nil
	default:
		return false, nil
	}
}

// printStatus prints a colored ok/failed marker followed by msg
func printStatus(ok bool, msg string) {
	if !colorsEnabled() {
		if ok {
			fmt.Printf("OK: %s\n", msg)
		} else {
			fmt.Printf("FAILED: %s\n", msg)
		}
		return
	}
	if ok {
		successColor.Print("OK")
	} else {
		failureColor.Print("FAILED")
	}
	fmt.Printf(": %s\n", msg)
}

// printWarnings lists warnings under the main status line
func printWarnings(warnings []string) {
	for _, w := range warnings {
		if colorsEnabled() {
			warningColor.Printf("  warning: %s\n", w)
		} else {
			fmt.Printf("  warning: %s\n", w)
		}
	}
}

// printHeader prints a section header for text output
func printHeader(text string) {
	if colorsEnabled() {
		headerColor.Println(text)
	} else {
		fmt.Println(text)
	}
}

// formatBytes renders a byte count for humans
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
