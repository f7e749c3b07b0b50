package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/wesm/smsvault/internal/backup"
	"github.com/wesm/smsvault/internal/textutil"
)

var locateCmd = &cobra.Command{
	Use:   "locate <backup-dir> <logical-path>...",
	Short: "Resolve attachment paths to files in the backup",
	Long: `Resolve attachment paths as recorded in the messages database (for example
~/Library/SMS/Attachments/ab/11/<uuid>/IMG_0001.JPG) to the hashed file that
holds them inside the backup. Useful when an export reports a missing
attachment.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocate(cmd.OutOrStdout(), backup.NewLayout(args[0]), args[1:])
	},
}

// runLocate prints one line per logical path. It fails if any path is
// missing, after reporting all of them.
func runLocate(out io.Writer, l backup.Layout, paths []string) error {
	missing := 0
	for _, p := range paths {
		name := textutil.SanitizeTerminal(p)
		found, err := l.LocateAttachment(p)
		var nf *backup.NotFoundError
		switch {
		case errors.As(err, &nf):
			missing++
			fmt.Fprintf(out, "%s\n  missing (expected at %s)\n", name, nf.ProbedPath)
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "%s\n  %s\n", name, found)
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d attachments not found", missing, len(paths))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(locateCmd)
}
