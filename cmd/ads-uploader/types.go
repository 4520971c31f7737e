package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the supported upload types and their defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry(cfg)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tAPI NAME\tPATTERN\tON STORAGE\tRECORDS\tTHREADS\tQPS\tENABLED\tTARGET")
		for _, d := range reg.All() {
			qps := "unlimited"
			if d.Defaults.QPS > 0 {
				qps = fmt.Sprintf("%g", d.Defaults.QPS)
			}
			var target []string
			for _, k := range slices.Sorted(maps.Keys(d.Defaults.Target)) {
				target = append(target, k+"="+d.Defaults.Target[k])
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\t%s\t%t\t%s\n",
				d.Code, d.APIName, d.Pattern, d.DefaultOnStorage,
				d.Defaults.RecordsPerRequest, d.Defaults.NumberOfThreads, qps,
				reg.IsEnabled(d.Code), strings.Join(target, ","))
		}
		return w.Flush()
	},
}
