package main

import (
	"context"
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nstogner/studio/pkg/model"
	"github.com/nstogner/studio/pkg/model/gemini"
)

func newModelsCmd(a *app) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models chat sessions can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			ctrl, closeStore, err := a.newController(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tMODEL\tCUSTOM")
			for _, m := range ctrl.Models() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", m.ID, m.Provider, m.Model, m.Custom)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !remote {
				return nil
			}
			gc, err := a.geminiClient(ctx, http.DefaultClient)
			if err != nil || gc == nil {
				return err
			}
			listed, err := gemini.List(ctx, gc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d models available from the Gemini API:\n", len(listed))
			for _, m := range listed {
				known := ""
				if _, ok := model.Find(model.Builtin(), m.ID); ok {
					known = " (built-in)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s%s\n", m.ID, known)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also list models reported by the Gemini API")
	return cmd
}
