package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rawbytedev/formula/pkg/schema"
	"github.com/spf13/cobra"
)

func newLayoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "layout SCHEMA [NAME...]",
		Short: "Print the layout of formulas in a schema",
		Long: `Print kind, sizedness, inline size at the configured address width,
heapless flag and fingerprint for each named formula. Without names every
formula in the schema is listed in document order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := schema.LoadFile(args[0])
			if err != nil {
				return err
			}
			names := args[1:]
			if len(names) == 0 {
				names = reg.Names()
			}
			width := a.cfg.AddressWidth
			if width == 0 {
				width = 32
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tKIND\tSIZED\tSIZE(w%d)\tHEAPLESS\tFINGERPRINT\n", width)
			for _, name := range names {
				f, ok := reg.Lookup(name)
				if !ok {
					return fmt.Errorf("schema %s has no formula %q", args[0], name)
				}
				size := "-"
				if n, ok := f.FixedSize(width); ok {
					size = humanize.IBytes(uint64(n))
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%t\t%016x\n",
					name, f.Kind(), f.Sized(), size, f.Heapless(), f.Fingerprint())
			}
			return tw.Flush()
		},
	}
}
