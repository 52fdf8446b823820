package command

import (
	"context"
	"fmt"
	"strings"
)

// Help lists the registered commands. It reads the registry it is registered
// in, so it is bound after construction with Attach.
type Help struct {
	registry *Registry
}

func NewHelp() *Help {
	return &Help{}
}

// Attach binds h to the registry it should describe.
func (h *Help) Attach(r *Registry) {
	h.registry = r
}

func (h *Help) Spec() Spec {
	return Spec{
		Name:    "help",
		Usage:   "help [command]",
		Summary: "List commands or describe one.",
		MinArgs: 0,
		MaxArgs: 1,
	}
}

func (h *Help) Execute(_ context.Context, inv Invocation) (string, error) {
	if h.registry == nil {
		return "", fmt.Errorf("help command is not attached to a registry")
	}

	if len(inv.Args) == 1 {
		name := strings.TrimPrefix(inv.Args[0], inv.Prefix)
		handler, ok := h.registry.Lookup(name)
		if !ok {
			return fmt.Sprintf("No command named %q.", name), nil
		}
		spec := handler.Spec()
		return fmt.Sprintf("%s%s\n%s", inv.Prefix, spec.Usage, spec.Summary), nil
	}

	var b strings.Builder
	b.WriteString("Commands:")
	for _, spec := range h.registry.Specs() {
		fmt.Fprintf(&b, "\n%s%s - %s", inv.Prefix, spec.Usage, spec.Summary)
	}
	return b.String(), nil
}

// DefaultRegistry registers the stock, crypto and help commands.
func DefaultRegistry(prices PriceSource) (*Registry, error) {
	help := NewHelp()
	registry, err := NewRegistry(NewStock(prices), NewCrypto(prices), help)
	if err != nil {
		return nil, err
	}
	help.Attach(registry)
	return registry, nil
}
