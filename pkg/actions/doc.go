// Package actions provides built-in ActionHandler implementations.
//
// WebhookHandler delivers webhook action nodes over HTTP. LogHandler
// accepts any action type and only logs it, which is useful for dry runs
// and local development before the real integrations are wired in.
package actions
