package actions

import (
	"context"
	"log/slog"

	"github.com/petrijr/tickflow/pkg/api"
)

// LogHandler logs the resolved action instead of performing it.
type LogHandler struct {
	Logger *slog.Logger
}

func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{Logger: logger}
}

func (h *LogHandler) Handle(ctx context.Context, req api.ActionRequest) (map[string]any, error) {
	h.Logger.InfoContext(ctx, "action_skipped",
		slog.String("action", string(req.Config.Type)),
		slog.String("tenant_id", req.TenantID),
		slog.String("workflow_id", req.WorkflowID),
		slog.String("state_id", req.StateID),
		slog.String("node_id", req.NodeID),
		slog.String("entity_id", req.EntityID),
		slog.String("idempotency_key", req.IdempotencyKey),
	)
	return map[string]any{"dry_run": true}, nil
}

// DryRun returns a LogHandler for every action type except those already
// present in handlers. The input map is not modified.
func DryRun(logger *slog.Logger, handlers map[api.ActionType]api.ActionHandler) map[api.ActionType]api.ActionHandler {
	out := make(map[api.ActionType]api.ActionHandler, len(AllTypes))
	lh := NewLogHandler(logger)
	for _, typ := range AllTypes {
		out[typ] = lh
	}
	for typ, h := range handlers {
		out[typ] = h
	}
	return out
}

// AllTypes lists every action type the engine knows.
var AllTypes = []api.ActionType{
	api.ActionSendEmail,
	api.ActionSendSMS,
	api.ActionSendWhatsApp,
	api.ActionAddTag,
	api.ActionRemoveTag,
	api.ActionUpdateContact,
	api.ActionCreateTask,
	api.ActionAssignToUser,
	api.ActionMoveDealStage,
	api.ActionNotifyTeam,
	api.ActionWebhook,
}
