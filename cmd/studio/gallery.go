package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/gallery"
)

func newGalleryCmd(a *app) *cobra.Command {
	var foldersOnly bool

	cmd := &cobra.Command{
		Use:   "gallery [folder-id]",
		Short: "Print the gallery tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			snap, err := st.Load(ctx)
			if err != nil {
				return err
			}
			root := snap.GalleryRoot
			if foldersOnly {
				root = gallery.FolderTree(root)
			}
			if len(args) == 1 {
				path, ok := gallery.Path(root, args[0])
				if !ok {
					return fmt.Errorf("item %q: %w", args[0], gallery.ErrNotFound)
				}
				names := make([]string, len(path))
				for i, p := range path {
					names[i] = p.Name
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, " / "))
				root = path[len(path)-1]
			}

			out := cmd.OutOrStdout()
			gallery.Walk(root, func(item *domain.GalleryItem, depth int) bool {
				line := strings.Repeat("  ", depth) + item.Name
				if item.IsFolder() {
					line += "/"
				} else if item.Size != "" {
					line += fmt.Sprintf(" (%s, %s)", item.Type, item.Size)
				} else {
					line += fmt.Sprintf(" (%s)", item.Type)
				}
				fmt.Fprintf(out, "%s  [%s]\n", line, item.ID)
				return true
			})
			fmt.Fprintf(out, "%d items\n", gallery.Count(root)-1)
			return nil
		},
	}
	cmd.Flags().BoolVar(&foldersOnly, "folders", false, "only show folders")
	return cmd
}
