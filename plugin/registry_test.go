package plugin_test

import (
	"errors"
	"testing"

	"github.com/efreet/mysqlproxy/plugin"
)

func TestCallStopsAtFirstContinueFalse(t *testing.T) {
	t.Parallel()
	reg := plugin.NewRegistry(nil)
	var calls []string

	reg.Register("com_query", plugin.HandlerFunc(func(hook string, args ...any) (plugin.Result, error) {
		calls = append(calls, "first")
		return plugin.Result{Continue: true}, nil
	}))
	reg.Register("com_query", plugin.HandlerFunc(func(hook string, args ...any) (plugin.Result, error) {
		calls = append(calls, "second")
		return plugin.Result{Continue: false, Value: "replaced"}, nil
	}))
	reg.Register("com_query", plugin.HandlerFunc(func(hook string, args ...any) (plugin.Result, error) {
		calls = append(calls, "third")
		return plugin.Result{Continue: true}, nil
	}))

	cont, val := reg.Call("com_query")
	if cont {
		t.Fatal("expected continue=false")
	}
	if val != "replaced" {
		t.Fatalf("value = %v", val)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestCallIsolatesHandlerFault(t *testing.T) {
	t.Parallel()
	reg := plugin.NewRegistry(nil)
	reg.Register("auth", plugin.HandlerFunc(func(hook string, args ...any) (plugin.Result, error) {
		return plugin.Result{Continue: true, Value: "prior"}, nil
	}))
	reg.Register("auth", plugin.HandlerFunc(func(hook string, args ...any) (plugin.Result, error) {
		return plugin.Result{}, errors.New("boom")
	}))

	cont, val := reg.Call("auth")
	if !cont {
		t.Fatal("expected continue=true to survive the faulting handler")
	}
	if val != "prior" {
		t.Fatalf("value = %v, want value from the last successful handler", val)
	}
}

func TestCallWithNoHandlersDefaultsToContinue(t *testing.T) {
	t.Parallel()
	reg := plugin.NewRegistry(nil)
	cont, val := reg.Call("com_query")
	if !cont {
		t.Fatal("expected continue=true with no handlers registered")
	}
	if val != nil {
		t.Fatalf("value = %v, want nil", val)
	}
}
