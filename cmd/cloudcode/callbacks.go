package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cloudcode/handler"
	"cloudcode/registry"
)

// registerCallbacks installs the built-in demo callbacks.
func registerCallbacks(reg *registry.Registry) {
	reg.MustRegisterOp("ping", ping)
	reg.MustRegisterHook("stamp", stamp)
	reg.MustRegisterTimer("heartbeat", heartbeat)
	reg.MustRegisterHandler("echo", echo)
}

func ping(ctx context.Context, param json.RawMessage) (any, error) {
	return "pong", nil
}

// stamp sets updated_at on the record carried by the hook.
func stamp(ctx context.Context, param json.RawMessage) (any, error) {
	var p struct {
		Record map[string]any `json:"record"`
	}
	if err := json.Unmarshal(param, &p); err != nil {
		return nil, fmt.Errorf("decode hook param: %w", err)
	}
	if p.Record == nil {
		return nil, nil
	}

	p.Record["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return p.Record, nil
}

func heartbeat(ctx context.Context, param json.RawMessage) (any, error) {
	return map[string]any{"at": time.Now().UTC().Format(time.RFC3339)}, nil
}

// echo answers with the request it received.
func echo(ctx context.Context, req *handler.Request) (any, error) {
	payload := map[string]any{
		"method": req.Method(),
		"path":   req.Path(),
		"query":  req.Query(),
	}

	if len(req.Body()) > 0 {
		if body, err := req.JSON(); err == nil {
			payload["body"] = body
		} else {
			payload["body"] = string(req.Body())
		}
	}

	return &handler.HTTPResponse{
		Status: http.StatusOK,
		Header: http.Header{"X-Echo": []string{req.Method()}},
		Body:   payload,
	}, nil
}
