package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mythweaver/internal/document"
	"mythweaver/internal/model"
	"mythweaver/internal/service"
)

type generateFlags struct {
	req        model.GenerationRequest
	length     string
	opts       service.BundleOptions
	out        string
	localRelay bool
	width      int
}

func newGenerateCommand() *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a story and optionally its illustration, narration and 3D model",
		Example: `  mythweaver generate --mythology Norse --character Loki --theme Trickery --image --voice
  mythweaver generate --mythology Egyptian --length short --model --save --out ra.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if f.localRelay {
				if err := a.StartLocalRelay(ctx); err != nil {
					return err
				}
			}

			f.req.Length = model.Length(f.length)
			infoColour.Fprintf(cmd.ErrOrStderr(), "Weaving a %s myth...\n", f.req.Mythology)
			res, err := a.Bundle().Run(ctx, f.req, f.opts)
			if err != nil {
				return err
			}
			return printBundle(cmd.OutOrStdout(), cmd.ErrOrStderr(), res, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.req.Mythology, "mythology", "m", "", "mythology, e.g. Greek, Norse, Egyptian")
	fl.StringVarP(&f.req.Character, "character", "c", "", "main character (optional)")
	fl.StringVarP(&f.req.Theme, "theme", "t", "", "theme (optional)")
	fl.StringVarP(&f.length, "length", "l", string(model.LengthMedium), "short, medium or long")
	fl.BoolVar(&f.opts.Image, "image", false, "generate an illustration")
	fl.BoolVar(&f.opts.Voice, "voice", false, "generate narration audio")
	fl.BoolVar(&f.opts.Model, "model", false, "generate a 3D model and wait for it")
	fl.BoolVar(&f.opts.ArcsView, "arcs", true, "narrate arc by arc when the story has arcs")
	fl.StringVar(&f.opts.ImagePrompt, "image-prompt", "", "custom illustration prompt")
	fl.StringVar(&f.opts.ModelPrompt, "model-prompt", "", "custom 3D model prompt")
	fl.StringVar(&f.opts.APIKey, "api-key", "", "credential for the story relay, overrides configuration")
	fl.BoolVar(&f.opts.Save, "save", false, "add the result to saved stories")
	fl.StringVarP(&f.out, "out", "o", "", "also write the story as markdown to this file")
	fl.BoolVar(&f.localRelay, "local-relay", false, "run the relay in-process instead of calling relay.base_url")
	fl.IntVar(&f.width, "width", 80, "wrap width for terminal output")
	_ = cmd.MarkFlagRequired("mythology")
	return cmd
}

func printBundle(stdout, stderr io.Writer, res *service.BundleResult, f generateFlags) error {
	doc := document.FromStory(res.Story)
	if err := document.RenderANSI(stdout, doc, f.width); err != nil {
		return err
	}

	for _, flow := range []struct {
		name string
		err  error
	}{
		{"illustration", res.ImageErr},
		{"narration", res.VoiceErr},
		{"3D model", res.ModelErr},
	} {
		if flow.err != nil {
			warnColour.Fprintf(stderr, "%s failed: %v\n", flow.name, flow.err)
		}
	}
	if res.Story.Audio != nil {
		successColour.Fprintln(stderr, "Narration audio generated.")
	}
	if res.Saved != nil {
		successColour.Fprintf(stderr, "Saved at %s.\n", res.Saved.SavedAt.Local().Format("2006-01-02 15:04"))
	}

	if f.out != "" {
		if err := os.WriteFile(f.out, []byte(document.Markdown(doc)), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.out, err)
		}
		successColour.Fprintf(stderr, "Wrote %s\n", f.out)
	}
	return nil
}
