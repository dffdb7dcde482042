package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/canonical"
)

func newCanonicalizeCommand() *cobra.Command {
	var digestOnly bool
	cmd := &cobra.Command{
		Use:   "canonicalize [file]",
		Short: "Print the canonical bytes and digest of a claim record",
		Long: `Reads a JSON claim record from file, or stdin when no file is given, and
prints its canonical form followed by its sha256 digest. The embedded proof
is excluded, so a signer can check what its signature has to cover.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close() //nolint:errcheck
				in = f
			}
			record, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}

			c, digest, err := canonical.Compute(record)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !digestOnly {
				if _, err := fmt.Fprintf(out, "%s\n", c); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(out, digest)
			return err
		},
	}
	cmd.Flags().BoolVar(&digestOnly, "digest-only", false, "print only the digest")
	return cmd
}
