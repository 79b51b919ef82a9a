// Command muepub is the CLI surface around the book package (§6): an
// external collaborator over the reading core, not part of it. It never
// implements its own parsing or layout — every subcommand is a thin
// encoder in front of Book's exported methods.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"muepub/book"
	"muepub/config"
	"muepub/nav"
	"muepub/state"
)

func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.LoadConfiguration(cmd.String("config"))
	if err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	level := zap.NewNop()
	if cmd.Bool("verbose") {
		l, err := zap.NewDevelopment()
		if err != nil {
			return ctx, fmt.Errorf("unable to prepare logging: %w", err)
		}
		level = l
	}
	env := &state.RenderContext{Cfg: cfg, Log: level}
	return state.ContextWithEnv(ctx, env), nil
}

func destroyAppContext(ctx context.Context, _ *cli.Command) error {
	env := state.FromContext(ctx)
	_ = env.Log.Sync()
	return nil
}

var errWasHandled bool

func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	env := state.FromContext(ctx)
	env.Log.Error("command failed", zap.Error(err))
	errWasHandled = true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:            "muepub",
		Usage:           "inspect and render EPUB archives against the muepub reading core",
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		ExitErrHandler:  exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging to stderr"},
			&cli.BoolFlag{Name: "pretty", Usage: "indent JSON output"},
			&cli.BoolFlag{Name: "ndjson", Usage: "emit newline-delimited JSON instead of a JSON array"},
		},
		Commands: []*cli.Command{
			metadataCommand,
			chaptersCommand,
			chapterTextCommand,
			tocCommand,
			validateCommand,
		},
	}

	var err error
	defer func() {
		if err != nil {
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "muepub: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

// openArg opens the archive named by the command's first positional
// argument.
func openArg(ctx context.Context, cmd *cli.Command) (*book.Book, error) {
	path := cmd.Args().Get(0)
	if path == "" {
		return nil, fmt.Errorf("missing SOURCE archive argument")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	env := state.FromContext(ctx)
	return book.Open(data, env.Cfg, env.Log)
}

// writeJSON encodes v per the app-level --pretty flag, following the
// nearest ancestor Command's flag set (urfave/cli flags are inherited,
// so a leaf command's cmd.Bool("pretty") already reflects the top-level
// flag unless overridden locally).
func writeJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(os.Stdout)
	if cmd.Bool("pretty") {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// writeJSONList encodes items either as one JSON array or, with
// --ndjson, as one object per line.
func writeJSONList[T any](cmd *cli.Command, items []T) error {
	if cmd.Bool("ndjson") {
		for _, it := range items {
			if err := writeJSON(cmd, it); err != nil {
				return err
			}
		}
		return nil
	}
	return writeJSON(cmd, items)
}

var metadataCommand = &cli.Command{
	Name:      "metadata",
	Usage:     "print the archive's Dublin Core metadata as JSON",
	ArgsUsage: "SOURCE",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		b, err := openArg(ctx, cmd)
		if err != nil {
			return err
		}
		return writeJSON(cmd, b.Metadata())
	},
}

type chapterSummary struct {
	Index  int    `json:"index"`
	Href   string `json:"href"`
	Linear bool   `json:"linear"`
}

var chaptersCommand = &cli.Command{
	Name:      "chapters",
	Usage:     "list spine chapters",
	ArgsUsage: "SOURCE",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		b, err := openArg(ctx, cmd)
		if err != nil {
			return err
		}
		out := make([]chapterSummary, 0, b.ChapterCount())
		for i := 0; i < b.ChapterCount(); i++ {
			item, _ := b.SpineItem(i)
			out = append(out, chapterSummary{Index: i, Href: item.Href, Linear: item.Linear})
		}
		return writeJSONList(cmd, out)
	},
}

var chapterTextCommand = &cli.Command{
	Name:      "chapter-text",
	Usage:     "render one chapter and print its pages",
	ArgsUsage: "SOURCE",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "index", Usage: "spine chapter `N` to render", Value: 0},
		&cli.BoolFlag{Name: "raw", Usage: "print plain text instead of the page/line/span JSON structure"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		b, err := openArg(ctx, cmd)
		if err != nil {
			return err
		}
		idx := int(cmd.Int("index"))
		pages, err := b.OpenChapterPages(idx)
		if err != nil {
			return fmt.Errorf("rendering chapter %d: %w", idx, err)
		}
		if cmd.Bool("raw") {
			for _, p := range pages {
				for _, l := range p.Lines {
					for _, s := range l.Spans {
						fmt.Print(s.Text)
					}
					fmt.Println()
				}
				fmt.Println("\f")
			}
			return nil
		}
		return writeJSONList(cmd, pages)
	},
}

var tocCommand = &cli.Command{
	Name:      "toc",
	Usage:     "print the table of contents",
	ArgsUsage: "SOURCE",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "flat", Usage: "flatten the TOC tree into a depth-first list instead of nested children"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		b, err := openArg(ctx, cmd)
		if err != nil {
			return err
		}
		toc := b.TOC()
		if cmd.Bool("flat") {
			return writeJSONList(cmd, flattenTOC(toc))
		}
		return writeJSON(cmd, toc)
	},
}

type flatTOCEntry struct {
	Depth int    `json:"depth"`
	Label string `json:"label"`
	Href  string `json:"href"`
}

// flattenTOC walks nav.Navigation's arena-indexed tree depth-first with
// an explicit stack, turning the Children-index structure into a flat
// list (§9 "Arenas over cyclic references": the tree lives in Nodes,
// addressed by index, not a pointer tree; walking it the same
// no-recursion way the parsers build it keeps one convention end to
// end).
func flattenTOC(n *nav.Navigation) []flatTOCEntry {
	type frame struct {
		idx, depth int
	}
	var out []flatTOCEntry
	stack := make([]frame, 0, len(n.TOCRoots))
	for i := len(n.TOCRoots) - 1; i >= 0; i-- {
		stack = append(stack, frame{idx: n.TOCRoots[i], depth: 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		entry := n.Nodes[f.idx]
		out = append(out, flatTOCEntry{Depth: f.depth, Label: entry.Label, Href: entry.Href})
		for i := len(entry.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{idx: entry.Children[i], depth: f.depth + 1})
		}
	}
	return out
}

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "run every diagnostic check and report findings as JSON",
	ArgsUsage: "SOURCE",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "strict", Usage: "exit nonzero if any diagnostic (including warnings) was produced"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		b, err := openArg(ctx, cmd)
		if err != nil {
			return err
		}
		diagErr := b.Validate()
		findings := multierr.Errors(diagErr)
		type finding struct {
			Message string `json:"message"`
		}
		out := make([]finding, 0, len(findings))
		for _, f := range findings {
			out = append(out, finding{Message: f.Error()})
		}
		if err := writeJSONList(cmd, out); err != nil {
			return err
		}
		if cmd.Bool("strict") && len(out) > 0 {
			return fmt.Errorf("%d diagnostic(s) reported under --strict", len(out))
		}
		return nil
	},
}
