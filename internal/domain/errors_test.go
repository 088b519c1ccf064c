package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapConnectivity("cannot reach target", "expose the port", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatal("expected a *DomainError")
	}
	if domainErr.Code != ErrConnectivity.Code {
		t.Errorf("expected code %s, got %s", ErrConnectivity.Code, domainErr.Code)
	}
	if domainErr.Recommendation != "expose the port" {
		t.Errorf("unexpected recommendation: %s", domainErr.Recommendation)
	}
}

func TestSentinelMatching(t *testing.T) {
	// Specialized errors must still match their sentinel by code
	err := WrapNotFound("allocation web/consilio", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Error("specialized not-found error should match ErrNotFound")
	}

	wrapped := fmt.Errorf("tool failed: %w", WrapConflict("duplicate cname", nil))
	if !errors.Is(wrapped, ErrConflict) {
		t.Error("conflict should match through fmt.Errorf wrapping")
	}
}

func TestClassificationHelpers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
		want    bool
	}{
		{"not found", WrapNotFound("secret", nil), IsNotFound, true},
		{"validation", WrapValidation("bad key path", nil), IsValidation, true},
		{"duplicate service is conflict", ErrDuplicateService, IsConflict, true},
		{"connectivity", WrapConnectivity("no route", "add network", nil), IsConnectivity, true},
		{"plain error is not validation", errors.New("boom"), IsValidation, false},
		{"nil is not found=false", nil, IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.checker(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(errors.New("boom")) != ErrInternal.Code {
		t.Error("plain errors should map to INTERNAL")
	}
	if CodeOf(ErrRateLimited) != "RATE_LIMITED" {
		t.Error("unexpected code for rate limited")
	}
}

func TestRecommendationOf(t *testing.T) {
	if RecommendationOf(errors.New("boom")) != "" {
		t.Error("plain errors carry no recommendation")
	}
	err := WrapConnectivity("x", "Add cloudflared to net OR expose port with -p 3105:3105", nil)
	if RecommendationOf(err) == "" {
		t.Error("expected recommendation to round-trip")
	}
}
