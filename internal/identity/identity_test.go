package identity

import (
	"context"
	"testing"

	"github.com/HendryAvila/stagehand/internal/agenterr"
)

func TestWithUser_RoundTrip(t *testing.T) {
	ctx := WithUser(context.Background(), "u-1")
	id, ok := UserFrom(ctx)
	if !ok || id != "u-1" {
		t.Errorf("UserFrom = (%q, %v), want (u-1, true)", id, ok)
	}
}

func TestUserFrom_BlankIsAbsent(t *testing.T) {
	ctx := WithUser(context.Background(), "   ")
	if _, ok := UserFrom(ctx); ok {
		t.Error("blank user id should be treated as absent")
	}
}

func TestContextResolver(t *testing.T) {
	r := ContextResolver{}

	if _, err := r.UserID(context.Background()); !agenterr.Is(err, agenterr.Unauthorized) {
		t.Errorf("err = %v, want Unauthorized", err)
	}

	id, err := r.UserID(WithUser(context.Background(), "alice"))
	if err != nil || id != "alice" {
		t.Errorf("UserID = (%q, %v), want alice", id, err)
	}
}

func TestStaticResolver(t *testing.T) {
	tests := []struct {
		name     string
		fallback string
		ctxUser  string
		want     string
		wantErr  bool
	}{
		{"fallback used", "local", "", "local", false},
		{"context wins", "local", "bob", "bob", false},
		{"no user at all", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.ctxUser != "" {
				ctx = WithUser(ctx, tt.ctxUser)
			}
			got, err := StaticResolver{Fallback: tt.fallback}.UserID(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("UserID = %q, want %q", got, tt.want)
			}
		})
	}
}
