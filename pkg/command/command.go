package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Caller identifies who invoked a command.
type Caller struct {
	UserID  string
	Mention string
}

// Invocation is one parsed command message.
type Invocation struct {
	Name    string
	Args    []string
	Prefix  string
	Caller  Caller
	Channel string
	ChatID  string
}

// Spec describes a command's surface. MaxArgs < 0 means unbounded. With
// Remainder set, the last argument captures the rest of the message verbatim.
type Spec struct {
	Name      string
	Usage     string
	Summary   string
	MinArgs   int
	MaxArgs   int
	Remainder bool
	Cooldown  time.Duration
}

// Handler executes one command and returns the reply to send.
type Handler interface {
	Spec() Spec
	Execute(ctx context.Context, inv Invocation) (string, error)
}

// Registry maps command names to handlers. It is read-only after construction.
type Registry struct {
	handlers map[string]Handler
	order    []string
}

// NewRegistry builds a registry. Names must be non-empty, contain no
// whitespace and be unique.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			return nil, errors.New("command handler is nil")
		}
		name := h.Spec().Name
		if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
			return nil, fmt.Errorf("invalid command name %q", name)
		}
		if _, exists := r.handlers[name]; exists {
			return nil, fmt.Errorf("duplicate command %q", name)
		}
		r.handlers[name] = h
		r.order = append(r.order, name)
	}
	return r, nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Specs returns every command spec in registration order.
func (r *Registry) Specs() []Spec {
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.handlers[name].Spec())
	}
	return specs
}

// Cooldowns returns each command's cooldown with overrides, in seconds,
// applied on top of the built-in values.
func (r *Registry) Cooldowns(overrides map[string]int) map[string]time.Duration {
	cooldowns := make(map[string]time.Duration, len(r.order))
	for _, spec := range r.Specs() {
		cooldowns[spec.Name] = spec.Cooldown
		if seconds, ok := overrides[spec.Name]; ok {
			cooldowns[spec.Name] = time.Duration(seconds) * time.Second
		}
	}
	return cooldowns
}

// Parse recognizes text as a command when it starts with prefix immediately
// followed by a registered command name. Anything else is ordinary chat.
func (r *Registry) Parse(prefix, text string) (Invocation, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Invocation{}, false
	}

	body := text[len(prefix):]
	if body == "" || body != trimLeadingSpace(body) {
		return Invocation{}, false
	}

	name, rest := nextField(body)

	h, ok := r.handlers[name]
	if !ok {
		return Invocation{}, false
	}

	return Invocation{
		Name:   name,
		Args:   splitArgs(rest, h.Spec()),
		Prefix: prefix,
	}, true
}

// CheckArgs reports whether inv carries an argument count its handler accepts.
// When it does not, the returned text is the usage reply.
func (r *Registry) CheckArgs(inv Invocation) (string, bool) {
	h, ok := r.handlers[inv.Name]
	if !ok {
		return "", false
	}

	spec := h.Spec()
	if len(inv.Args) < spec.MinArgs || (spec.MaxArgs >= 0 && len(inv.Args) > spec.MaxArgs) {
		return "Usage: " + inv.Prefix + spec.Usage, false
	}
	return "", true
}

// Route runs the handler for inv. Unknown commands yield an empty reply.
func (r *Registry) Route(ctx context.Context, inv Invocation) (string, error) {
	h, ok := r.handlers[inv.Name]
	if !ok {
		return "", nil
	}
	if usage, ok := r.CheckArgs(inv); !ok {
		return usage, nil
	}
	return h.Execute(ctx, inv)
}

func splitArgs(rest string, spec Spec) []string {
	if !spec.Remainder || spec.MaxArgs <= 0 {
		return slices.Clip(strings.Fields(rest))
	}

	args := make([]string, 0, spec.MaxArgs)
	for len(args) < spec.MaxArgs-1 {
		field, tail := nextField(rest)
		if field == "" {
			return args
		}
		args = append(args, field)
		rest = tail
	}

	if tail := trimLeadingSpace(rest); tail != "" {
		args = append(args, tail)
	}
	return args
}

// nextField returns the first whitespace-delimited field of s and everything
// after it, untouched.
func nextField(s string) (string, string) {
	s = trimLeadingSpace(s)
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}

func trimLeadingSpace(s string) string {
	for s != "" {
		r, size := utf8.DecodeRuneInString(s)
		if !unicode.IsSpace(r) {
			break
		}
		s = s[size:]
	}
	return s
}
