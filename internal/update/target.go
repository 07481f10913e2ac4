// Package update classifies update targets, dispatches them to the
// platform's upgraders and aggregates the per-target outcomes.
package update

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Kind is the category of a software unit.
type Kind int

const (
	KindCore Kind = iota + 1
	KindPlugin
	KindTheme
)

var kindNames = map[Kind]string{
	KindCore:   "core",
	KindPlugin: "plugin",
	KindTheme:  "theme",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Prefix returns the namespace prefix used in target ids, e.g. "plugin-".
func (k Kind) Prefix() string {
	return k.String() + "-"
}

var (
	ErrUnknownKind        = errors.New("unknown target kind")
	ErrEmptyIdentifier    = errors.New("empty target identifier")
	ErrInvalidIdentifier  = errors.New("invalid target identifier")
	ErrNoUpgraderForKind  = errors.New("no upgrader for target kind")
	ErrTargetTimeout      = errors.New("upgrade timed out")
	ErrUpgraderPanicked   = errors.New("upgrader panicked")
	ErrUpgraderNotUpdated = errors.New("upgrader reported no update")
)

// Target is a parsed "<kind>-<identifier>" id.
type Target struct {
	Kind       Kind
	Identifier string
}

// ID returns the namespaced form of the target.
func (t Target) ID() string {
	return t.Kind.Prefix() + t.Identifier
}

func (t Target) String() string {
	return t.ID()
}

// ParseTarget splits raw into kind and identifier. The identifier ends up as
// a command argument, so it may not start with '-' or contain whitespace or
// control characters.
func ParseTarget(raw string) (Target, error) {
	name, ident, ok := strings.Cut(raw, "-")
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}

	var kind Kind
	for k, n := range kindNames {
		if n == name {
			kind = k
			break
		}
	}
	if kind == 0 {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}

	if ident == "" {
		return Target{}, fmt.Errorf("%w: %q", ErrEmptyIdentifier, raw)
	}
	if strings.HasPrefix(ident, "-") {
		return Target{}, fmt.Errorf("%w: %q starts with '-'", ErrInvalidIdentifier, ident)
	}
	if strings.IndexFunc(ident, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return Target{}, fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidIdentifier, ident)
	}

	return Target{Kind: kind, Identifier: ident}, nil
}
