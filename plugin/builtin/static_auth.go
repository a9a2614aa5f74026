package builtin

import "github.com/efreet/mysqlproxy/plugin"

// StaticAuthPlugin overrides the default nonce-hash comparison for a
// fixed allow/deny list, exercising the auth hook's continue=false
// short-circuit (spec.md §4.5 step 3).
type StaticAuthPlugin struct {
	// Allow lists usernames that are always authenticated successfully,
	// regardless of the password they present.
	Allow map[string]bool
	// Deny lists usernames that are always rejected.
	Deny map[string]bool
}

// Run implements plugin.Handler.
func (p StaticAuthPlugin) Run(hook string, args ...any) (plugin.Result, error) {
	if hook != "auth" || len(args) < 3 {
		return plugin.Result{Continue: true}, nil
	}
	username, _ := args[2].(string)

	if p.Deny[username] {
		return plugin.Result{Continue: false, Value: false}, nil
	}
	if p.Allow[username] {
		return plugin.Result{Continue: false, Value: true}, nil
	}
	return plugin.Result{Continue: true}, nil
}
