package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/petrijr/tickflow/pkg/api"
)

const (
	tagStart = "{{"
	tagEnd   = "}}"
)

// templateRenderer substitutes {{ path }} placeholders from the execution
// context. Unknown paths are left in place and logged.
type templateRenderer struct {
	ctx    context.Context
	logger *slog.Logger
	data   map[string]any
	attrs  []any
}

func newTemplateRenderer(ctx context.Context, logger *slog.Logger, st *api.ExecutionState, nodeID string) *templateRenderer {
	data := make(map[string]any, len(st.Context)+5)
	for k, v := range st.Context {
		data[k] = v
	}
	data["entity_id"] = st.EntityID
	data["entity_email"] = st.EntityEmail
	data["entity_type"] = string(st.EntityType)
	data["workflow_id"] = st.WorkflowID
	data["tenant_id"] = st.TenantID

	return &templateRenderer{
		ctx:    ctx,
		logger: logger,
		data:   data,
		attrs:  []any{"tenant_id", st.TenantID, "state_id", st.ID, "node_id", nodeID},
	}
}

func (r *templateRenderer) render(s string) string {
	if !strings.Contains(s, tagStart) {
		return s
	}
	out, err := fasttemplate.ExecuteFuncStringWithErr(s, tagStart, tagEnd, func(w io.Writer, tag string) (int, error) {
		path := strings.TrimSpace(tag)
		v, ok := lookupPath(r.data, path)
		if !ok {
			r.logger.WarnContext(r.ctx, "unresolved template placeholder",
				append([]any{"placeholder", path}, r.attrs...)...)
			return io.WriteString(w, tagStart+tag+tagEnd)
		}
		return io.WriteString(w, formatValue(v))
	})
	if err != nil {
		return s
	}
	return out
}

func (r *templateRenderer) renderMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = r.render(v)
	}
	return out
}

// actionConfig returns a copy of cfg with every template field resolved.
func (r *templateRenderer) actionConfig(cfg api.ActionConfig) api.ActionConfig {
	cfg.Subject = r.render(cfg.Subject)
	cfg.Body = r.render(cfg.Body)
	cfg.Recipient = r.render(cfg.Recipient)
	cfg.Title = r.render(cfg.Title)
	cfg.URL = r.render(cfg.URL)
	cfg.Fields = r.renderMap(cfg.Fields)
	cfg.Headers = r.renderMap(cfg.Headers)
	return cfg
}

// lookupPath resolves a dotted path through nested maps.
func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}
	var cur any = root
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
