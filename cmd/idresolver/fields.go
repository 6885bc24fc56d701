package main

import (
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/service"
)

func fieldsCmd() *cobra.Command {
	var realmName string

	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Show the search fields each resolver of a realm supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *service.Service) error {
				fields, err := svc.Engine().SearchFields(cmd.Context(), identity.New("", realmName, ""))
				if err != nil {
					return err
				}
				specs := make([]string, 0, len(fields))
				for spec := range fields {
					specs = append(specs, spec)
				}
				sort.Strings(specs)
				var rows [][]string
				for _, spec := range specs {
					names := make([]string, 0, len(fields[spec]))
					for name := range fields[spec] {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						rows = append(rows, []string{spec, name, fields[spec][name]})
					}
				}
				return render(os.Stdout, fields, []string{"Resolver", "Field", "Type"}, rows)
			})
		},
	}

	cmd.Flags().StringVarP(&realmName, "realm", "r", "", "Realm; empty uses the default realm")
	return cmd
}
