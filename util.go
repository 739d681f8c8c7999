package dispatch

import (
	"reflect"
	"runtime"
	"strings"
)

// Span attribute keys.
const (
	spanKeyEventID        = "event.id"
	spanKeyEventCode      = "event.code"
	spanKeyEventName      = "event.name"
	spanKeyNamespace      = "event.namespace"
	spanKeyNotificationID = "notification.id"
)

// FuncName returns the runtime name of a handler function, trimmed to its
// bare identifier: package path, receiver and closure suffixes are removed.
// It is the default registered handler name when WithHandlerName is not
// given. Non-function values yield an empty string.
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return ""
	}
	details := runtime.FuncForPC(v.Pointer())
	if details == nil {
		return ""
	}
	name := details.Name()
	if i := strings.LastIndex(name, "/"); i != -1 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i != -1 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	return name
}
