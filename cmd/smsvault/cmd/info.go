package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/smsvault/internal/backup"
	"github.com/wesm/smsvault/internal/fileutil"
	"github.com/wesm/smsvault/internal/textutil"
)

var infoCmd = &cobra.Command{
	Use:   "info <backup-dir>",
	Short: "Show device and backup metadata",
	Long: `Show the device and backup details recorded in a backup's Info.plist and
Manifest.plist, whether the backup is encrypted, and whether the message and
address book databases are present.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("backup directory not found: %w", err)
		}
		if !st.IsDir() {
			return fmt.Errorf("backup path is not a directory: %s", args[0])
		}
		return printBackupInfo(cmd.OutOrStdout(), backup.NewLayout(args[0]))
	},
}

func printBackupInfo(out io.Writer, l backup.Layout) error {
	fmt.Fprintf(out, "Backup: %s\n\n", l.Root)

	info, err := l.ReadInfo()
	switch {
	case errors.Is(err, backup.ErrNoMetadata):
		fmt.Fprintln(out, "  Info.plist:     not present")
	case err != nil:
		logger.Warn("read Info.plist", "error", err)
		fmt.Fprintln(out, "  Info.plist:     unreadable")
	default:
		printField(out, "Device", info.DeviceName)
		printField(out, "Product", info.ProductType)
		printField(out, "iOS", info.ProductVersion)
		printField(out, "Phone", info.PhoneNumber)
		printDate(out, "Last backup", info.LastBackupDate)
	}

	m, err := l.ReadManifest()
	switch {
	case errors.Is(err, backup.ErrNoMetadata):
		fmt.Fprintln(out, "  Manifest.plist: not present")
		fmt.Fprintln(out, "  Encrypted:      unknown")
	case err != nil:
		logger.Warn("read Manifest.plist", "error", err)
		fmt.Fprintln(out, "  Manifest.plist: unreadable")
		fmt.Fprintln(out, "  Encrypted:      unknown")
	default:
		if info == nil {
			printField(out, "Device", m.Lockdown.DeviceName)
			printField(out, "Product", m.Lockdown.ProductType)
			printField(out, "iOS", m.Lockdown.ProductVersion)
		}
		printField(out, "Format", m.Version)
		printDate(out, "Backup date", m.Date)
		fmt.Fprintf(out, "  Encrypted:      %s\n", yesNo(m.IsEncrypted))
	}

	fmt.Fprintf(out, "  Messages DB:    %s\n", presence(l.MessagesDB()))
	fmt.Fprintf(out, "  Contacts DB:    %s\n", presence(l.ContactsDB()))
	return nil
}

func printField(out io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(out, "  %-15s %s\n", label+":", textutil.SanitizeTerminal(value))
}

func printDate(out io.Writer, label string, t time.Time) {
	if t.IsZero() {
		return
	}
	fmt.Fprintf(out, "  %-15s %s\n", label+":", t.Local().Format("2006-01-02 15:04:05"))
}

func presence(path string) string {
	if fileutil.Exists(path) {
		return "present"
	}
	return "missing"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
