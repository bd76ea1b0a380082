package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"mythweaver/internal/document"
)

func newSavedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saved",
		Short: "Manage saved stories",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stories, err := a.Saved.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stories) == 0 {
				infoColour.Fprintln(out, "No saved stories yet.")
				return nil
			}
			for i, s := range stories {
				saved := ""
				if s.SavedAt != nil {
					saved = s.SavedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(out, "%3d  %s  %s  %s\n", i, titleColour.Sprint(s.Title), s.Mythology(), saved)
			}
			return nil
		},
	}

	var markdown bool
	show := &cobra.Command{
		Use:   "show <index>",
		Short: "Show a saved story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			story, err := a.Saved.Get(cmd.Context(), i)
			if err != nil {
				return err
			}
			doc := document.FromStory(story)
			if markdown {
				_, err = fmt.Fprint(cmd.OutOrStdout(), document.Markdown(doc))
				return err
			}
			return document.RenderANSI(cmd.OutOrStdout(), doc, 80)
		},
	}
	show.Flags().BoolVar(&markdown, "markdown", false, "print markdown instead of coloured text")

	del := &cobra.Command{
		Use:   "delete <index>",
		Short: "Delete a saved story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Saved.Delete(cmd.Context(), i); err != nil {
				return err
			}
			successColour.Fprintf(cmd.OutOrStdout(), "Deleted story %d.\n", i)
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func newNarrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "narrate <index>",
		Short: "Play the narration of a saved story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Config.Narration.Output != "speaker" {
				return errors.New("narration.output must be speaker to play audio")
			}

			story, err := a.Saved.Get(ctx, i)
			if err != nil {
				return err
			}
			if story.Audio == nil {
				return errors.New("this story has no narration audio, generate it with --voice first")
			}

			done := make(chan struct{})
			tok, err := a.Player.Start(story.Audio, func() { close(done) })
			if err != nil {
				return err
			}
			titleColour.Fprintf(cmd.OutOrStdout(), "Narrating %q, press Ctrl+C to stop\n", story.Title)
			return waitNarration(ctx, done, func() error { return a.Player.Stop(tok) })
		},
	}
}

// waitNarration 等播放结束，ctx取消时停止播放
func waitNarration(ctx context.Context, done <-chan struct{}, stop func() error) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return stop()
	}
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("index must be a non-negative integer, got %q", s)
	}
	return i, nil
}
