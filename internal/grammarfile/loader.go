package grammarfile

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-grammar/internal/engine"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

// Report lists the grammar names a Sync changed.
type Report struct {
	Loaded   []string
	Reloaded []string
	Removed  []string
}

// Changed reports whether the sync touched any grammar.
func (r Report) Changed() bool {
	return len(r.Loaded)+len(r.Reloaded)+len(r.Removed) > 0
}

// Loader keeps an engine's grammars in step with the YAML files of a
// directory.
type Loader struct {
	dir       string
	engine    *engine.Engine
	log       *slog.Logger
	exclusive map[string]bool

	mu    sync.Mutex
	files map[string]*loadedFile
}

type loadedFile struct {
	sum     [sha256.Size]byte
	grammar *grammar.Grammar
}

// NewLoader creates a loader for dir. Grammars named in exclusive are made
// exclusive on registration, as are files that set exclusive: true.
func NewLoader(dir string, eng *engine.Engine, log *slog.Logger, exclusive []string) *Loader {
	ex := make(map[string]bool, len(exclusive))
	for _, name := range exclusive {
		ex[name] = true
	}
	return &Loader{
		dir:       dir,
		engine:    eng,
		log:       log.With(slog.String("component", "grammarfile"), slog.String("dir", dir)),
		exclusive: ex,
		files:     make(map[string]*loadedFile),
	}
}

func (l *Loader) Dir() string { return l.dir }

// IsGrammarFile reports whether path has a grammar file extension.
func IsGrammarFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Files lists the grammar files in dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsGrammarFile(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	slices.Sort(out)
	return out, nil
}

// Sync loads new files, reloads changed ones and unregisters grammars whose
// files disappeared. A broken file keeps its previous grammar, if any; its
// error is returned joined with the others after every file was tried.
func (l *Loader) Sync() (Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var report Report
	paths, err := Files(l.dir)
	if err != nil {
		return report, fmt.Errorf("list grammar files: %w", err)
	}

	var errs []error
	present := make(map[string]bool, len(paths))
	for _, path := range paths {
		present[path] = true
		if err := l.syncFile(path, &report); err != nil {
			l.log.Error("grammar file rejected", slog.String("file", filepath.Base(path)), slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	for _, path := range slices.Sorted(maps.Keys(l.files)) {
		if present[path] {
			continue
		}
		lf := l.files[path]
		delete(l.files, path)
		if err := l.engine.Unregister(lf.grammar); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", lf.grammar.Name(), err))
			continue
		}
		report.Removed = append(report.Removed, lf.grammar.Name())
		l.log.Info("grammar removed", slog.String("grammar", lf.grammar.Name()))
	}
	return report, errors.Join(errs...)
}

func (l *Loader) syncFile(path string, report *Report) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	prev := l.files[path]
	if prev != nil && prev.sum == sum {
		return nil
	}

	f, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	f.Path = path
	for other, lf := range l.files {
		if other != path && lf.grammar.Name() == f.Grammar {
			return fmt.Errorf("%s: grammar %q already defined by %s", filepath.Base(path), f.Grammar, filepath.Base(other))
		}
	}
	g, err := f.Build(grammar.WithLogger(l.log))
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if _, err := g.Compile(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	if prev != nil {
		if err := l.engine.Unregister(prev.grammar); err != nil {
			l.log.Warn("unregister previous grammar failed",
				slog.String("grammar", prev.grammar.Name()), slog.String("error", err.Error()))
		}
		delete(l.files, path)
	}
	if err := l.engine.Register(g); err != nil {
		if prev != nil {
			if rerr := l.engine.Register(prev.grammar); rerr == nil {
				l.files[path] = prev
			}
		}
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if f.Exclusive || l.exclusive[f.Grammar] {
		if err := l.engine.SetExclusive(g, true); err != nil {
			return err
		}
	}
	l.files[path] = &loadedFile{sum: sum, grammar: g}

	if prev != nil {
		report.Reloaded = append(report.Reloaded, f.Grammar)
		l.log.Info("grammar reloaded", slog.String("grammar", f.Grammar), slog.String("file", filepath.Base(path)))
	} else {
		report.Loaded = append(report.Loaded, f.Grammar)
		l.log.Info("grammar loaded", slog.String("grammar", f.Grammar), slog.String("file", filepath.Base(path)))
	}
	return nil
}

// Grammars returns the loaded grammars keyed by name.
func (l *Loader) Grammars() map[string]*grammar.Grammar {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]*grammar.Grammar, len(l.files))
	for _, lf := range l.files {
		out[lf.grammar.Name()] = lf.grammar
	}
	return out
}

// Close unregisters every grammar the loader registered.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for path, lf := range l.files {
		if err := l.engine.Unregister(lf.grammar); err != nil {
			errs = append(errs, err)
		}
		delete(l.files, path)
	}
	return errors.Join(errs...)
}
