package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mythweaver/internal/model"
)

func newOptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List the suggested mythologies, themes and lengths",
		Args:  cobra.NoArgs,
		// 不需要读配置
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			lengths := make([]string, 0, len(model.Lengths))
			for _, l := range model.Lengths {
				lengths = append(lengths, string(l))
			}
			for _, group := range []struct {
				name  string
				items []string
			}{
				{"Mythologies", model.Mythologies},
				{"Themes", model.Themes},
				{"Lengths", lengths},
			} {
				titleColour.Fprintln(out, group.name)
				if _, err := fmt.Fprintln(out, "  "+strings.Join(group.items, ", ")); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
