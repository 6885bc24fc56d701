package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbukum/idresolver/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if outputFormat == "table" {
				fmt.Println(info.String())
				return nil
			}
			return render(os.Stdout, info, nil, nil)
		},
	}
}
