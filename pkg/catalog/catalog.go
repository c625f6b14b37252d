// Package catalog loads the post-action catalog: which post-actions a host
// runs, for which trackers, and under which trigger condition.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/canonicalize"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
)

// SupportedVersions is the catalog format range this build understands.
const SupportedVersions = "^1"

// ErrNotFound is returned when no entry matches a name.
var ErrNotFound = errors.New("post-action not in catalog")

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,62}$`)

var catalogValidate *validator.Validate

func init() {
	catalogValidate = validator.New()
	catalogValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		return name
	})
	_ = catalogValidate.RegisterValidation("actionname", func(fl validator.FieldLevel) bool {
		return nameRe.MatchString(fl.Field().String())
	})
	_ = catalogValidate.RegisterValidation("digest", func(fl validator.FieldLevel) bool {
		return canonicalize.ValidDigest(fl.Field().String())
	})
}

// Catalog is a parsed and validated catalog file. It is immutable once built.
type Catalog struct {
	Version     string  `yaml:"version" validate:"required"`
	PostActions []Entry `yaml:"post_actions" validate:"dive"`

	index map[string]int
}

// Entry declares one post-action.
type Entry struct {
	Name          string        `yaml:"name" validate:"required,actionname"`
	Builtin       string        `yaml:"builtin,omitempty" validate:"required_without=Module,excluded_with=Module"`
	Module        *ModuleRef    `yaml:"module,omitempty" validate:"required_without=Builtin,excluded_with=Builtin"`
	Trackers      []int         `yaml:"trackers,omitempty" validate:"dive,gt=0"`
	When          string        `yaml:"when,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`
	MemoryLimitMB uint32        `yaml:"memory_limit_mb,omitempty" validate:"lte=4096"`
}

// ModuleRef points at a WASM post-action module in the module store.
type ModuleRef struct {
	Name    string `yaml:"name" json:"name" validate:"required,actionname"`
	Hash    string `yaml:"hash" json:"hash" validate:"required,digest"`
	Version string `yaml:"version,omitempty" json:"version,omitempty" validate:"omitempty,semver"`
}

// AppliesTo reports whether the entry is enabled for a tracker. An entry
// without a tracker list applies everywhere.
func (e Entry) AppliesTo(trackerID int) bool {
	return len(e.Trackers) == 0 || slices.Contains(e.Trackers, trackerID)
}

// IsModule reports whether the entry runs in the sandbox.
func (e Entry) IsModule() bool {
	return e.Module != nil
}

// Builtins resolves built-in post-action names.
type Builtins interface {
	Get(name string) (postaction.Action, bool)
	Names() []string
}

// ConditionCompiler checks trigger expressions.
type ConditionCompiler interface {
	Compile(expr string) error
}

// Checker carries the dependencies needed to validate references in a catalog.
// A nil Conditions skips trigger compilation.
type Checker struct {
	Builtins   Builtins
	Conditions ConditionCompiler
}

// Parse decodes and validates a catalog document.
func Parse(data []byte, chk Checker) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(chk); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads and parses a catalog from disk.
func LoadFile(path string, chk Checker) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %q: %w", path, err)
	}
	c, err := Parse(data, chk)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Default exposes every built-in under its own name, for every tracker.
func Default(b Builtins) *Catalog {
	c := &Catalog{Version: "1.0"}
	for _, name := range b.Names() {
		c.PostActions = append(c.PostActions, Entry{Name: name, Builtin: name})
	}
	c.reindex()
	return c
}

func (c *Catalog) validate(chk Checker) error {
	if err := catalogValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}

	v, err := semver.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("invalid catalog version %q: %w", c.Version, err)
	}
	supported, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !supported.Check(v) {
		return fmt.Errorf("unsupported catalog version %s (want %s)", c.Version, SupportedVersions)
	}

	seen := make(map[string]bool, len(c.PostActions))
	for _, e := range c.PostActions {
		if seen[e.Name] {
			return fmt.Errorf("duplicate post-action %q", e.Name)
		}
		seen[e.Name] = true

		if e.Module != nil {
			if err := catalogValidate.Struct(e.Module); err != nil {
				return fmt.Errorf("post-action %q: invalid module: %w", e.Name, err)
			}
		}

		if e.Builtin != "" && chk.Builtins != nil {
			if _, ok := chk.Builtins.Get(e.Builtin); !ok {
				return fmt.Errorf("post-action %q: unknown builtin %q", e.Name, e.Builtin)
			}
		}
		if e.When != "" && chk.Conditions != nil {
			if err := chk.Conditions.Compile(e.When); err != nil {
				return fmt.Errorf("post-action %q: %w", e.Name, err)
			}
		}
	}

	c.reindex()
	return nil
}

func (c *Catalog) reindex() {
	c.index = make(map[string]int, len(c.PostActions))
	for i, e := range c.PostActions {
		c.index[e.Name] = i
	}
}

// Get returns the entry named name.
func (c *Catalog) Get(name string) (Entry, bool) {
	i, ok := c.index[name]
	if !ok {
		return Entry{}, false
	}
	return c.PostActions[i], true
}

// Lookup returns the entry named name if it applies to trackerID.
func (c *Catalog) Lookup(name string, trackerID int) (Entry, error) {
	e, ok := c.Get(name)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !e.AppliesTo(trackerID) {
		return Entry{}, fmt.Errorf("%w: %q is not enabled for tracker %d", ErrNotFound, name, trackerID)
	}
	return e, nil
}

// Names lists entry names in file order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.PostActions))
	for i, e := range c.PostActions {
		names[i] = e.Name
	}
	return names
}
