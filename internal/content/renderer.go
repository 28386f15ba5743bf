// Package content personalizes step templates for a lead.
//
// Two syntaxes are supported. Single-brace placeholders such as {firstName}
// are replaced with the lead's value inserted literally; a placeholder the
// renderer does not know is left in the output verbatim. Content that also
// carries Liquid markup ({{ lead.first_name }}, {% if %}) is rendered with
// Liquid, and Liquid variables follow Liquid rules: an undefined variable
// renders empty. A Liquid error keeps the placeholder-substituted text.
//
// Lead values are never parsed as template code.
package content

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

var placeholderRe = regexp.MustCompile(`\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}`)

// Renderer is safe for concurrent use. Parsed Liquid templates are cached
// by source text.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()
	// {{ lead.first_name | default_name }} → "there" when the lead has no first name
	engine.RegisterFilter("default_name", func(v interface{}) string {
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if v == nil || s == "" || s == "<nil>" {
			return "there"
		}
		return s
	})
	return &Renderer{engine: engine}
}

// RenderStep renders the content and, for email, the subject.
func (r *Renderer) RenderStep(lead *domain.Lead, step domain.Step) domain.RenderedStep {
	out := domain.RenderedStep{Step: step, Content: r.Render(lead, step.Content)}
	if step.Channel == domain.ChannelEmail && step.Subject != "" {
		out.Subject = r.Render(lead, step.Subject)
	}
	return out
}

// Render personalizes tmpl for lead. It never fails.
func (r *Renderer) Render(lead *domain.Lead, tmpl string) string {
	if tmpl == "" {
		return ""
	}
	vars := placeholderValues(lead)
	text := substitute(tmpl, func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	})
	if !hasLiquid(tmpl) {
		return text
	}

	// Known placeholders become Liquid variable references so their values
	// are emitted as output, not parsed.
	src := substitute(tmpl, func(key string) (string, bool) {
		if _, ok := vars[key]; !ok || key[0] < 'a' || key[0] > 'z' {
			return "", false
		}
		return "{{ " + placeholderBinding + "." + key + " }}", true
	})
	tpl, err := r.parse(src)
	if err != nil {
		logger.Warn("[Content] liquid parse failed, using plain text", "error", err)
		return text
	}
	bindings := liquidBindings(lead)
	bindings[placeholderBinding] = vars
	rendered, rerr := tpl.RenderString(bindings)
	if rerr != nil {
		logger.Warn("[Content] liquid render failed, using plain text", "error", rerr)
		return text
	}
	return rendered
}

// placeholderBinding is the Liquid variable holding single-brace values.
const placeholderBinding = "placeholders"

func (r *Renderer) parse(src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	r.cache.Store(src, tpl)
	return tpl, nil
}

// substitute replaces single-brace placeholders whose braces are not part
// of a Liquid {{ }} pair. Placeholders for which replace reports false are
// kept.
func substitute(tmpl string, replace func(key string) (string, bool)) string {
	matches := placeholderRe.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if (start > 0 && tmpl[start-1] == '{') || (end < len(tmpl) && tmpl[end] == '}') {
			continue
		}
		val, ok := replace(normalize(tmpl[m[2]:m[3]]))
		if !ok {
			continue
		}
		b.WriteString(tmpl[last:start])
		b.WriteString(val)
		last = end
	}
	b.WriteString(tmpl[last:])
	return b.String()
}

func placeholderValues(lead *domain.Lead) map[string]string {
	vars := make(map[string]string)
	if lead == nil {
		return vars
	}
	// scalar metadata first so lead fields win on a name clash
	for k, v := range lead.Metadata {
		switch v.(type) {
		case string, bool, int, int64, float64:
			vars[normalize(k)] = fmt.Sprintf("%v", v)
		}
	}
	full := strings.TrimSpace(lead.FirstName + " " + lead.LastName)
	vars["firstname"] = lead.FirstName
	vars["lastname"] = lead.LastName
	vars["name"] = full
	vars["fullname"] = full
	vars["email"] = lead.Email
	vars["phone"] = lead.Phone
	return vars
}

func liquidBindings(lead *domain.Lead) map[string]interface{} {
	if lead == nil {
		return map[string]interface{}{"lead": map[string]interface{}{}}
	}
	meta := lead.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]interface{}{
		"lead": map[string]interface{}{
			"id":                  lead.ID,
			"first_name":          lead.FirstName,
			"last_name":           lead.LastName,
			"email":               lead.Email,
			"phone":               lead.Phone,
			"qualification_score": lead.QualificationScore,
			"interests":           lead.Interests(),
			"metadata":            meta,
		},
	}
}

func hasLiquid(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

func normalize(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}
