package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbukum/idresolver/audit"
	"github.com/kbukum/idresolver/identity"
	"github.com/kbukum/idresolver/resolver"
	"github.com/kbukum/idresolver/service"
)

func listCmd() *cobra.Command {
	var realmName, resolverConf string
	var filters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users of a realm or resolver",
		RunE: func(cmd *cobra.Command, args []string) error {
			search := map[string]string{}
			for _, f := range filters {
				k, v, ok := strings.Cut(f, "=")
				if !ok {
					return fmt.Errorf("invalid filter %q, want key=value", f)
				}
				search[k] = v
			}
			return withService(cmd.Context(), func(svc *service.Service) error {
				rec := audit.NewRecord()
				defer reportAudit(rec)
				profiles, err := svc.Engine().ListUsers(cmd.Context(), rec, search, identity.New("", realmName, resolverConf))
				if err != nil {
					return err
				}
				if len(profiles) == 0 && outputFormat == "table" {
					fmt.Println("No users found")
					return nil
				}
				return render(os.Stdout, profiles, []string{"Login", "ID", "Resolver", "Attributes"}, profileRows(profiles))
			})
		},
	}

	cmd.Flags().StringVarP(&realmName, "realm", "r", "", "Realm to list; empty lists the default realm")
	cmd.Flags().StringVar(&resolverConf, "conf", "", "Restrict to one resolver configuration name")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "Search filter key=value, '*' matches any run of characters")
	return cmd
}

func profileRows(profiles []resolver.Profile) [][]string {
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		var attrs []string
		for k, v := range p {
			switch k {
			case resolver.KeyUsername, resolver.KeyUserID, resolver.KeyResolverSpec:
				continue
			}
			attrs = append(attrs, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(attrs)
		rows = append(rows, []string{p.Login(), p.UserID(), fmt.Sprint(p[resolver.KeyResolverSpec]), strings.Join(attrs, " ")})
	}
	return rows
}
