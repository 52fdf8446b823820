package pipeline

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// DefaultNoticeTemplate is posted after a message is removed.
const DefaultNoticeTemplate = "{{ mention }}, your message was removed due to inappropriate content ({{ reason }})."

type noticeTemplate struct {
	tpl *pongo2.Template
}

func newNoticeTemplate(source string) (*noticeTemplate, error) {
	if strings.TrimSpace(source) == "" {
		source = DefaultNoticeTemplate
	}

	tpl, err := pongo2.FromString(source)
	if err != nil {
		return nil, fmt.Errorf("parse removal notice template: %w", err)
	}
	return &noticeTemplate{tpl: tpl}, nil
}

// render fills the template. Chat text is not HTML, so values are passed as safe.
func (n *noticeTemplate) render(mention, reason string) (string, error) {
	out, err := n.tpl.Execute(pongo2.Context{
		"mention": pongo2.AsSafeValue(mention),
		"reason":  pongo2.AsSafeValue(reason),
	})
	if err != nil {
		return "", fmt.Errorf("render removal notice: %w", err)
	}
	return strings.TrimSpace(out), nil
}
