package loader

import (
	"github.com/rendis/dccmcp/internal/actions"
	"github.com/rendis/dccmcp/internal/expressions"
)

// report renders message and prompt templates over args, context and
// output. A template that fails to render falls back to its raw text.
type report struct {
	message string
	prompt  string
}

func (r report) Report(in actions.Input, out map[string]any) (string, string) {
	scope := map[string]any{"args": in.Args, "context": in.Context, "output": out}
	return render(r.message, scope), render(r.prompt, scope)
}

func render(tmpl string, scope map[string]any) string {
	if tmpl == "" {
		return ""
	}
	s, err := expressions.Interpolate(tmpl, scope)
	if err != nil {
		return tmpl
	}
	return s
}

// asOutput turns a body result into an output map; non-object results are
// wrapped as {"result": value}.
func asOutput(v any) map[string]any {
	switch val := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return val
	}
	return map[string]any{"result": v}
}
