// Package source discovers capability descriptors in plugin directories.
// A plugin directory holds skills/<name>/SKILL.md, agents/*.md and
// commands/*.md files, each with YAML frontmatter.
package source

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

const skillFileName = "SKILL.md"

// layout maps a glob pattern inside a plugin directory to a descriptor kind
var layout = []struct {
	pattern string
	kind    capability.Kind
}{
	{pattern: "skills/**/" + skillFileName, kind: capability.KindSkill},
	{pattern: "agents/**/*.md", kind: capability.KindAgent},
	{pattern: "commands/**/*.md", kind: capability.KindCommand},
}

// LoadError reports a single descriptor file that could not be loaded
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader reads descriptors from one or more plugin directories
type Loader struct {
	roots []string
}

// Option configures a Loader
type Option func(*Loader) error

// WithRoots sets the plugin directories to search, highest precedence first
func WithRoots(dirs ...string) Option {
	return func(l *Loader) error {
		if len(dirs) == 0 {
			return errors.New("at least one plugin directory must be specified")
		}
		l.roots = dirs
		return nil
	}
}

// WithDefaultRoots searches the current directory and ~/.agentplug/plugins
func WithDefaultRoots() Option {
	return func(l *Loader) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		l.roots = []string{
			".", // Repo-local plugin (highest precedence)
			filepath.Join(homeDir, ".agentplug", "plugins"),
		}
		return nil
	}
}

// NewLoader creates a Loader. Without options the default roots are used.
func NewLoader(opts ...Option) (*Loader, error) {
	l := &Loader{}
	if len(opts) == 0 {
		opts = []Option{WithDefaultRoots()}
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, errors.Wrap(err, "failed to apply loader option")
		}
	}
	return l, nil
}

// Roots returns the configured plugin directories
func (l *Loader) Roots() []string {
	out := make([]string, len(l.roots))
	copy(out, l.roots)
	return out
}

// Load reads every descriptor under the configured roots. Files that fail to
// parse are reported in the returned error, a *multierror.Error of
// *LoadError, and do not prevent other files from loading. When the same id
// appears under more than one root the earlier root wins.
func (l *Loader) Load(ctx context.Context) ([]capability.Descriptor, error) {
	var (
		descriptors []capability.Descriptor
		loadErrs    *multierror.Error
		seen        = make(map[string]string)
	)

	for _, root := range l.roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			logger.G(ctx).WithField("dir", root).Debug("plugin directory not found, skipping")
			continue
		}

		found, errs := loadRoot(os.DirFS(root), root)
		loadErrs = multierror.Append(loadErrs, errs...)

		for _, d := range found {
			if prev, ok := seen[d.ID]; ok && prev != root {
				logger.G(ctx).WithFields(map[string]interface{}{
					"id":       d.ID,
					"path":     d.Path,
					"shadowed": prev,
				}).Debug("descriptor shadowed by higher precedence plugin directory")
				continue
			}
			seen[d.ID] = root
			descriptors = append(descriptors, d)
		}
	}

	logger.G(ctx).WithField("count", len(descriptors)).Debug("loaded capability descriptors")
	return descriptors, loadErrs.ErrorOrNil()
}

func loadRoot(fsys fs.FS, root string) ([]capability.Descriptor, []error) {
	var (
		descriptors []capability.Descriptor
		errs        []error
	)

	for _, entry := range layout {
		matches, err := doublestar.Glob(fsys, entry.pattern)
		if err != nil {
			errs = append(errs, &LoadError{Path: filepath.Join(root, entry.pattern), Err: err})
			continue
		}

		for _, match := range matches {
			if strings.EqualFold(path.Base(match), "README.md") {
				continue
			}
			fullPath := filepath.Join(root, filepath.FromSlash(match))

			content, err := fs.ReadFile(fsys, match)
			if err != nil {
				errs = append(errs, &LoadError{Path: fullPath, Err: errors.Wrap(err, "failed to read descriptor file")})
				continue
			}

			d, err := ParseDescriptor(entry.kind, fallbackID(entry.kind, match), content)
			if err != nil {
				errs = append(errs, &LoadError{Path: fullPath, Err: err})
				continue
			}
			d.Path = fullPath
			descriptors = append(descriptors, d)
		}
	}
	return descriptors, errs
}

// fallbackID derives an id from the file location: the directory name for
// skills and the file name without extension otherwise
func fallbackID(kind capability.Kind, match string) string {
	if kind == capability.KindSkill {
		return path.Base(path.Dir(match))
	}
	return strings.TrimSuffix(path.Base(match), path.Ext(match))
}
