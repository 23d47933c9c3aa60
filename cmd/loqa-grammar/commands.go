package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/dictation"
	"github.com/loqalabs/loqa-grammar/internal/engine"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/grammarfile"
	"github.com/loqalabs/loqa-grammar/internal/history"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// splitWords re-tokenizes args so quoted phrases may carry several words.
func splitWords(args []string) ([]string, error) {
	return shellwords.Parse(strings.Join(args, " "))
}

// grammarPaths expands directories to the grammar files they contain.
func grammarPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		files, err := grammarfile.Files(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func compileFile(path string) (grammarfile.File, *grammar.CompiledGrammar, error) {
	f, err := grammarfile.Load(path)
	if err != nil {
		return f, nil, err
	}
	g, err := f.Build(grammar.WithLogger(quietLogger()))
	if err != nil {
		return f, nil, fmt.Errorf("%s: %w", path, err)
	}
	compiled, err := g.Compile()
	if err != nil {
		return f, nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, compiled, nil
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check PATH...",
		Short: "Validate grammar files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := grammarPaths(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var failed int
			for _, path := range paths {
				f, compiled, err := compileFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s\n", err)
					continue
				}
				fmt.Fprintf(out, "ok   %s: grammar %s, %d rules, %d words\n",
					path, f.Grammar, len(compiled.Rules), len(compiled.Words))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d grammar files invalid", failed, len(paths))
			}
			return nil
		},
	}
}

func newMimicCmd() *cobra.Command {
	var (
		dir        string
		executable string
		title      string
	)
	cmd := &cobra.Command{
		Use:   "mimic WORDS...",
		Short: "Recognize words against a grammar directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			words, err := splitWords(args)
			if err != nil {
				return err
			}
			eng := engine.New(
				engine.WithLogger(quietLogger()),
				engine.WithWindowSource(engine.StaticWindow{Executable: executable, Title: title}),
			)
			loader := grammarfile.NewLoader(dir, eng, quietLogger(), nil)
			defer loader.Close()
			if _, err := loader.Sync(); err != nil {
				return err
			}

			res, err := eng.Mimic(cmd.Context(), words...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range res.Recognitions {
				fmt.Fprintf(out, "%s/%s", rec.Grammar, rec.Rule)
				if rec.Value != nil {
					fmt.Fprintf(out, " = %v", rec.Value)
				}
				fmt.Fprintln(out)
				for _, name := range slices.Sorted(maps.Keys(rec.Extras)) {
					fmt.Fprintf(out, "  %s: %v\n", name, rec.Extras[name])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "grammars", "Grammar directory")
	cmd.Flags().StringVar(&executable, "executable", "", "Foreground window executable")
	cmd.Flags().StringVar(&title, "title", "", "Foreground window title")
	return cmd
}

func newFormatCmd() *cobra.Command {
	var twoSpaces bool
	cmd := &cobra.Command{
		Use:   "format TOKENS...",
		Short: "Format dictated words",
		Long:  `Format dictated words. Each argument is one engine token, for example period or x\letter\ex.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := dictation.NewFormatter(dictation.Options{TwoSpacesAfterPeriod: twoSpaces}, quietLogger())
			fmt.Fprintln(cmd.OutOrStdout(), f.Format(args))
			return nil
		},
	}
	cmd.Flags().BoolVar(&twoSpaces, "two-spaces", false, "Put two spaces after sentence ends")
	return cmd
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint PATH...",
		Short: "Print the compiled fingerprint of grammar files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := grammarPaths(args)
			if err != nil {
				return err
			}
			var errs []error
			for _, path := range paths {
				f, compiled, err := compileFile(path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				data, err := compiled.MarshalBinary()
				if err != nil {
					errs = append(errs, err)
					continue
				}
				sum, err := compiled.Fingerprint()
				if err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s)\n", sum, f.Grammar, humanize.Bytes(uint64(len(data))))
			}
			return errors.Join(errs...)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		session    string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent recognitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := history.Open(ctx, cfg.History, quietLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			var entries []history.Entry
			if session != "" {
				entries, err = store.Session(ctx, session, limit)
			} else {
				entries, err = store.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				what := e.Grammar + "/" + e.Rule
				if e.Failure != "" {
					what = "failed: " + e.Failure
				}
				fmt.Fprintf(out, "%-16s %-32s %s\n", humanize.Time(e.CreatedAt), what, strings.Join(e.Words, " "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "loqa-grammar.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&session, "session", "", "Only show this session")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}
