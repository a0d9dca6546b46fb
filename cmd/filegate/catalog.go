package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/policy"
)

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the signature registry and pattern catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "catalog version %s\n\n", catalog.Version)
			fmt.Fprintln(w, "MEDIA TYPE\tEXTENSIONS\tSIGNATURES")
			for _, e := range catalog.Signatures() {
				sigs := fmt.Sprint(len(e.Magic))
				if e.Textual {
					sigs = "text sample"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.MediaType, strings.Join(e.Extensions, " "), sigs)
			}
			fmt.Fprintln(w, "\nPATTERN SET\tCATEGORY\tPATTERNS")
			for _, s := range catalog.Sets() {
				fmt.Fprintf(w, "%s\t%s\t%d\n", s.Name(), s.Category(), s.Len())
			}
			return w.Flush()
		},
	}
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect validation policies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a policy file (default: the embedded policy)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			p, err := policy.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), p.Describe())
			return nil
		},
	})
	return cmd
}
