// Package builtin ships the always-registered plugins that give the
// proxy's "auth" and "com_query" hooks concrete, exercised handlers
// without requiring an external plugin directory (see SPEC_FULL.md
// §4.7 "Plugin registry — domain additions").
package builtin

import (
	"strings"

	"github.com/efreet/mysqlproxy/plugin"
	"github.com/efreet/mysqlproxy/protocol"
	"github.com/efreet/mysqlproxy/resultset"
)

const versionCommentQuery = "select @@version_comment limit 1"

// VersionCommentValue is the single value of the synthetic one-row
// response spec.md §4.5 requires the session to produce for
// "SELECT @@version_comment LIMIT 1", implemented here as an ordinary
// com_query plugin rather than a special case baked into the command
// dispatcher.
const VersionCommentValue = "mysqlproxy-0.1"

// VersionCommentPlugin intercepts the version-comment probe MySQL client
// libraries issue on connect.
type VersionCommentPlugin struct{}

// Run implements plugin.Handler.
func (VersionCommentPlugin) Run(hook string, args ...any) (plugin.Result, error) {
	if hook != "com_query" || len(args) == 0 {
		return plugin.Result{Continue: true}, nil
	}
	query, ok := args[0].(string)
	if !ok || strings.ToLower(strings.TrimSpace(query)) != versionCommentQuery {
		return plugin.Result{Continue: true}, nil
	}

	col := resultset.NewColumnDefinition("", "", "@@version_comment", protocol.ColumnTypeVarString, uint32(len(VersionCommentValue)))
	set := resultset.Set{
		Columns: []resultset.ColumnDefinition{col},
		Rows:    [][]resultset.Value{{{Raw: VersionCommentValue}}},
	}
	return plugin.Result{Continue: false, Value: set}, nil
}
