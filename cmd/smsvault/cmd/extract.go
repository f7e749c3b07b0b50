package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/smsvault/internal/config"
	"github.com/wesm/smsvault/internal/export"
	"github.com/wesm/smsvault/internal/imessage"
)

var (
	extractOutput  string
	extractWorkers int
	extractRegion  string
	extractTempDir string
)

var extractCmd = &cobra.Command{
	Use:   "extract <backup-dir>",
	Short: "Export messages from a backup into an archive",
	Long: `Export every conversation in an unencrypted iPhone backup into a single
archive. The archive holds chats/chat_<id>.json for each conversation and
attachments/ with every attachment found in the backup.

The archive format is chosen from the output extension:
  .zip  .tar  .tar.gz  .tgz  .tar.bz  .tar.bz2  .tbz2  .tar.xz  .txz

Examples:
  smsvault extract ~/Library/Application\ Support/MobileSync/Backup/<udid>
  smsvault extract -o messages.tar.gz --region GB /path/to/backup`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(cmd, args[0])
	},
}

func runExtract(cmd *cobra.Command, backupDir string) error {
	out := cmd.OutOrStdout()

	// Validate backup dir exists.
	info, err := os.Stat(backupDir)
	if err != nil {
		return fmt.Errorf("backup directory not found: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup path is not a directory: %s", backupDir)
	}

	opts := extractOptions(cmd, backupDir)

	// Reject an unknown extension before doing any work.
	if _, err := export.DefaultFormats().ForPath(opts.Output); err != nil {
		return err
	}

	runDir, err := config.MkTempDir("smsvault-run-*", opts.TempDir)
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(runDir)
	opts.TempDir = runDir

	progress := NewExportCLIProgress(out)
	exporter := imessage.NewExporter(
		imessage.WithLogger(logger),
		imessage.WithProgress(progress),
	)

	fmt.Fprintf(out, "Extracting messages from %s\n", backupDir)
	fmt.Fprintf(out, "Output: %s\n", opts.Output)
	fmt.Fprintf(out, "Region: %s\n", opts.Region)
	fmt.Fprintln(out)

	summary, err := exporter.Export(cmd.Context(), opts)
	if err != nil {
		if imessage.IsInterrupted(err) {
			fmt.Fprintln(out, "\nExtraction interrupted. No archive was written.")
			return err
		}
		var unreadable *imessage.SourceUnreadableError
		if errors.As(err, &unreadable) && unreadable.Encrypted {
			return fmt.Errorf("extract failed: %w%s", err, encryptedHint)
		}
		return fmt.Errorf("extract failed: %w", err)
	}

	printExtractSummary(out, summary)
	return nil
}

const encryptedHint = `

smsvault only reads unencrypted backups. In Finder (or iTunes), select the
device, uncheck "Encrypt local backup", and back up again.`

// extractOptions merges command-line flags over config file defaults.
func extractOptions(cmd *cobra.Command, backupDir string) imessage.ExportOptions {
	opts := imessage.DefaultOptions()
	opts.BackupDir = backupDir
	opts.Output = cfg.Extract.Output
	opts.Region = cfg.Extract.Region
	opts.Workers = cfg.Extract.Workers
	opts.TempDir = cfg.Extract.TempDir

	flags := cmd.Flags()
	if flags.Changed("output") {
		opts.Output = extractOutput
	}
	if flags.Changed("region") {
		opts.Region = strings.ToUpper(extractRegion)
	}
	if flags.Changed("workers") {
		opts.Workers = config.ClampWorkers(extractWorkers)
	}
	if flags.Changed("temp-dir") {
		opts.TempDir = extractTempDir
	}
	return opts
}

func printExtractSummary(out io.Writer, summary *imessage.ExportSummary) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Extraction complete!")
	fmt.Fprintf(out, "  Duration:       %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Archive:        %s (%s, %s)\n",
		summary.Output, summary.Format, export.FormatBytesLong(summary.ArchiveSize))
	fmt.Fprintf(out, "  Messages:       %d\n", summary.Messages)
	fmt.Fprintf(out, "  Contacts:       %d\n", summary.Contacts)
	fmt.Fprintf(out, "  Chats:          %d written", summary.ChatsWritten)
	if summary.ChatsFailed > 0 {
		fmt.Fprintf(out, ", %d failed", summary.ChatsFailed)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Attachments:    %d copied (%s)",
		summary.AttachmentsCopied, export.FormatBytesLong(summary.BytesCopied))
	if summary.AttachmentsMissing > 0 {
		fmt.Fprintf(out, ", %d missing", summary.AttachmentsMissing)
	}
	if summary.AttachmentsFailed > 0 {
		fmt.Fprintf(out, ", %d failed", summary.AttachmentsFailed)
	}
	fmt.Fprintln(out)
	if summary.Errors > 0 {
		fmt.Fprintf(out, "  Errors:         %d (run with -v for details)\n", summary.Errors)
	}
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", config.DefaultOutput, "archive to create; the extension picks the format")
	extractCmd.Flags().IntVar(&extractWorkers, "workers", config.DefaultWorkers, "parallel attachment copies and chat writes")
	extractCmd.Flags().StringVar(&extractRegion, "region", config.DefaultRegion, "region for phone numbers without a country code (e.g. US, GB)")
	extractCmd.Flags().StringVar(&extractTempDir, "temp-dir", "", "parent directory for the staging workspace")
	rootCmd.AddCommand(extractCmd)
}
