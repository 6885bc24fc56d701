package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbukum/idresolver/component"
	"github.com/kbukum/idresolver/service"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check components and resolvers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *service.Service) error {
				results := svc.Checks(cmd.Context())
				status := component.Overall(results)
				rows := make([][]string, 0, len(results))
				for _, h := range results {
					rows = append(rows, []string{h.Name, string(h.Status), h.Message})
				}
				if err := render(os.Stdout, results, []string{"Component", "Status", "Message"}, rows); err != nil {
					return err
				}
				if status == component.StatusUnhealthy {
					return fmt.Errorf("service is %s", status)
				}
				return nil
			})
		},
	}
}
