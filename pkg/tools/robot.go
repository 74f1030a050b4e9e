package tools

import (
	"context"
	"fmt"
)

// RegisterRobotTools wires the robot tool catalog into the registry.
// Knowledge-base, perception, and notification tools go to the backend
// service; motion tools go to the actuation service. Handlers that take
// a required argument validate it locally so a malformed call fails
// without a round trip.
func RegisterRobotTools(r *Registry, backend, actuation *Bridge) {
	r.Register("kb_query", backend.Tool("kb/query"))
	r.Register("kb_last_seen", backend.Tool("kb/last_seen"))
	r.Register("kb_list_entities", backend.Tool("kb/entities"))

	r.Register("detic_set_labels", requireList("labels", backend.Tool("detic/set_labels")))
	r.Register("face_identify", backend.Tool("face/identify"))

	r.Register("track_start", requireString("target", backend.Tool("tracking/start")))
	r.Register("track_stop", backend.Tool("tracking/stop"))

	r.Register("approach_object", requireString("object", actuation.Tool("motion/approach_object")))
	r.Register("motion_stop", actuation.Tool("motion/stop"))

	r.Register("notify_say", requireString("text", backend.Tool("notify/say")))
}

// requireString rejects calls where args[key] is missing or not a
// non-empty string.
func requireString(key string, fn Func) Func {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		v, _ := args[key].(string)
		if v == "" {
			return nil, fmt.Errorf("%s (string) required", key)
		}
		return fn(ctx, args)
	}
}

// requireList rejects calls where args[key] is missing or not a list.
func requireList(key string, fn Func) Func {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		if _, ok := args[key].([]any); !ok {
			return nil, fmt.Errorf("%s (list) required", key)
		}
		return fn(ctx, args)
	}
}
