package types

import (
	"context"
	"testing"
)

func TestWithActor_GetActor(t *testing.T) {
	actor := Actor{ID: "usr_123", Type: ActorTypeUser, Source: "dashboard"}
	ctx := WithActor(context.Background(), actor)

	got, ok := GetActor(ctx)
	if !ok {
		t.Fatal("expected actor in context")
	}
	if got != actor {
		t.Errorf("GetActor() = %+v, want %+v", got, actor)
	}
	if got.IsSystem() {
		t.Error("user actor reported as system")
	}

	if _, ok := GetActor(context.Background()); ok {
		t.Error("expected no actor in empty context")
	}
}

func TestActor_IsSystem(t *testing.T) {
	if !(Actor{ID: "scheduler", Type: ActorTypeSystem}).IsSystem() {
		t.Error("system actor not recognised")
	}
}

func TestWithRequestID_GetRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-abc")
	if got := GetRequestID(ctx); got != "req-abc" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-abc")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestContextKeys_DoNotCollideWithStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), "actor", "not-an-actor") //nolint:staticcheck
	if _, ok := GetActor(ctx); ok {
		t.Error("plain string key must not satisfy the private actor key")
	}
}
