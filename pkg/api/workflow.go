package api

import (
	"time"
)

// NodeType is the tag of a workflow node.
type NodeType string

const (
	NodeTrigger   NodeType = "trigger"
	NodeAction    NodeType = "action"
	NodeCondition NodeType = "condition"
	NodeDelay     NodeType = "delay"
)

// Port names the exit of a node's outgoing edge.
type Port string

const (
	PortDefault Port = "default"
	PortYes     Port = "yes"
	PortNo      Port = "no"
)

// TriggerEvent is a domain event that can start a workflow.
type TriggerEvent string

const (
	EventContactCreated       TriggerEvent = "contact.created"
	EventContactUpdated       TriggerEvent = "contact.updated"
	EventContactTagAdded      TriggerEvent = "contact.tag_added"
	EventFormSubmitted        TriggerEvent = "form.submitted"
	EventDealCreated          TriggerEvent = "deal.created"
	EventDealStageChanged     TriggerEvent = "deal.stage_changed"
	EventDealWon              TriggerEvent = "deal.won"
	EventAppointmentScheduled TriggerEvent = "appointment.scheduled"
)

// ActionType identifies the integration an action node delegates to.
//
// The engine guarantees at-least-once invocation, so every integration has to
// tolerate a repeated call for the same ActionRequest.IdempotencyKey:
//
//   - send_email, send_sms, send_whatsapp, notify_team, create_task and
//     webhook produce a new external artifact per call and must dedupe on
//     the idempotency key.
//   - add_tag, remove_tag, update_contact, assign_to_user and
//     move_deal_stage are set-operations and are idempotent by nature.
type ActionType string

const (
	ActionSendEmail     ActionType = "send_email"
	ActionSendSMS       ActionType = "send_sms"
	ActionSendWhatsApp  ActionType = "send_whatsapp"
	ActionAddTag        ActionType = "add_tag"
	ActionRemoveTag     ActionType = "remove_tag"
	ActionUpdateContact ActionType = "update_contact"
	ActionCreateTask    ActionType = "create_task"
	ActionAssignToUser  ActionType = "assign_to_user"
	ActionMoveDealStage ActionType = "move_deal_stage"
	ActionNotifyTeam    ActionType = "notify_team"
	ActionWebhook       ActionType = "webhook"
)

// ConditionType identifies the predicate a condition node evaluates.
type ConditionType string

const (
	ConditionHasTag        ConditionType = "has_tag"
	ConditionNotHasTag     ConditionType = "not_has_tag"
	ConditionFieldEquals   ConditionType = "field_equals"
	ConditionFieldContains ConditionType = "field_contains"
	ConditionDealStage     ConditionType = "deal_stage"
	ConditionEmailOpened   ConditionType = "email_opened"
	ConditionEmailClicked  ConditionType = "email_clicked"
	ConditionContactSource ConditionType = "contact_source"
)

// TriggerConfig is the payload of a trigger node. Unset filters always match.
type TriggerConfig struct {
	Event  TriggerEvent `json:"event" bson:"event" yaml:"event"`
	TagID  string       `json:"tag_id,omitempty" bson:"tag_id,omitempty" yaml:"tag_id,omitempty"`
	FormID string       `json:"form_id,omitempty" bson:"form_id,omitempty" yaml:"form_id,omitempty"`
	Source string       `json:"source,omitempty" bson:"source,omitempty" yaml:"source,omitempty"`
}

// ActionConfig is the payload of an action node. Which fields are relevant
// depends on Type; string fields may contain {{ placeholders }}.
type ActionConfig struct {
	Type      ActionType        `json:"type" bson:"type" yaml:"type"`
	Subject   string            `json:"subject,omitempty" bson:"subject,omitempty" yaml:"subject,omitempty"`
	Body      string            `json:"body,omitempty" bson:"body,omitempty" yaml:"body,omitempty"`
	Recipient string            `json:"recipient,omitempty" bson:"recipient,omitempty" yaml:"recipient,omitempty"`
	TagID     string            `json:"tag_id,omitempty" bson:"tag_id,omitempty" yaml:"tag_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty" bson:"fields,omitempty" yaml:"fields,omitempty"`
	Title     string            `json:"title,omitempty" bson:"title,omitempty" yaml:"title,omitempty"`
	DueInDays int               `json:"due_in_days,omitempty" bson:"due_in_days,omitempty" yaml:"due_in_days,omitempty"`
	UserID    string            `json:"user_id,omitempty" bson:"user_id,omitempty" yaml:"user_id,omitempty"`
	StageID   string            `json:"stage_id,omitempty" bson:"stage_id,omitempty" yaml:"stage_id,omitempty"`
	URL       string            `json:"url,omitempty" bson:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" bson:"headers,omitempty" yaml:"headers,omitempty"`
}

// ConditionConfig is the payload of a condition node.
type ConditionConfig struct {
	Type      ConditionType `json:"type" bson:"type" yaml:"type"`
	TagID     string        `json:"tag_id,omitempty" bson:"tag_id,omitempty" yaml:"tag_id,omitempty"`
	Field     string        `json:"field,omitempty" bson:"field,omitempty" yaml:"field,omitempty"`
	Value     string        `json:"value,omitempty" bson:"value,omitempty" yaml:"value,omitempty"`
	StageID   string        `json:"stage_id,omitempty" bson:"stage_id,omitempty" yaml:"stage_id,omitempty"`
	Source    string        `json:"source,omitempty" bson:"source,omitempty" yaml:"source,omitempty"`
	MessageID string        `json:"message_id,omitempty" bson:"message_id,omitempty" yaml:"message_id,omitempty"`
}

// DelayConfig is the payload of a delay node.
//
// Minutes, Hours and Days are summed. When At and/or Weekday are set the
// node instead waits for the next occurrence of that wall-clock time / day
// at or after the moment it runs, evaluated in Timezone (UTC if empty).
type DelayConfig struct {
	Minutes  int    `json:"minutes,omitempty" bson:"minutes,omitempty" yaml:"minutes,omitempty"`
	Hours    int    `json:"hours,omitempty" bson:"hours,omitempty" yaml:"hours,omitempty"`
	Days     int    `json:"days,omitempty" bson:"days,omitempty" yaml:"days,omitempty"`
	At       string `json:"at,omitempty" bson:"at,omitempty" yaml:"at,omitempty"`
	Weekday  string `json:"weekday,omitempty" bson:"weekday,omitempty" yaml:"weekday,omitempty"`
	Timezone string `json:"timezone,omitempty" bson:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Duration returns the fixed part of the delay.
func (d DelayConfig) Duration() time.Duration {
	return time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Days)*24*time.Hour
}

// Node is a single vertex of a workflow graph. Exactly one config pointer,
// the one matching Type, is set.
type Node struct {
	ID        string           `json:"id" bson:"id" yaml:"id"`
	Type      NodeType         `json:"type" bson:"type" yaml:"type"`
	Name      string           `json:"name" bson:"name" yaml:"name"`
	Trigger   *TriggerConfig   `json:"trigger,omitempty" bson:"trigger,omitempty" yaml:"trigger,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty" bson:"action,omitempty" yaml:"action,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty" bson:"condition,omitempty" yaml:"condition,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty" bson:"delay,omitempty" yaml:"delay,omitempty"`
}

// Connection is a directed edge leaving From through Port.
type Connection struct {
	ID   string `json:"id" bson:"id" yaml:"id"`
	From string `json:"from" bson:"from" yaml:"from"`
	To   string `json:"to" bson:"to" yaml:"to"`
	Port Port   `json:"port" bson:"port" yaml:"port"`
}

// RunStats are the aggregate counters kept on a workflow definition.
type RunStats struct {
	TotalRuns      int64      `json:"total_runs" bson:"total_runs"`
	SuccessfulRuns int64      `json:"successful_runs" bson:"successful_runs"`
	FailedRuns     int64      `json:"failed_runs" bson:"failed_runs"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty" bson:"last_run_at,omitempty"`
}

// WorkflowDefinition is a tenant-authored automation graph.
type WorkflowDefinition struct {
	ID          string `json:"id" bson:"_id" yaml:"id"`
	TenantID    string `json:"tenant_id" bson:"tenant_id" yaml:"tenant_id"`
	Name        string `json:"name" bson:"name" yaml:"name"`
	Description string `json:"description,omitempty" bson:"description,omitempty" yaml:"description,omitempty"`
	IsActive    bool   `json:"is_active" bson:"is_active" yaml:"is_active"`

	Graph `bson:",inline" yaml:",inline"`

	Stats     RunStats  `json:"stats" bson:"stats" yaml:"-"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" yaml:"-"`
}
