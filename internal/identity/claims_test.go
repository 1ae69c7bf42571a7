package identity

import "testing"

func TestGetClaimTopLevelString(t *testing.T) {
	claims := []byte(`{"sub":"user-123","iss":"https://issuer.example"}`)
	got, ok := GetClaim(claims, "sub")
	if !ok || got != "user-123" {
		t.Errorf("GetClaim(sub) = %q, %v; want user-123, true", got, ok)
	}
}

func TestGetClaimDottedPath(t *testing.T) {
	claims := []byte(`{"sub":"user-123","user":{"plan":"enterprise"}}`)
	got, ok := GetClaim(claims, "user.plan")
	if !ok || got != "enterprise" {
		t.Errorf("GetClaim(user.plan) = %q, %v; want enterprise, true", got, ok)
	}
}

func TestGetClaimMissingPathNotFound(t *testing.T) {
	claims := []byte(`{"sub":"user-123"}`)
	_, ok := GetClaim(claims, "user.plan")
	if ok {
		t.Error("expected not found for missing nested path")
	}
}

func TestGetClaimNumberAndBoolCoerceToString(t *testing.T) {
	claims := []byte(`{"user":{"tier":3,"active":true}}`)
	if got, ok := GetClaim(claims, "user.tier"); !ok || got != "3" {
		t.Errorf("GetClaim(user.tier) = %q, %v; want 3, true", got, ok)
	}
	if got, ok := GetClaim(claims, "user.active"); !ok || got != "true" {
		t.Errorf("GetClaim(user.active) = %q, %v; want true, true", got, ok)
	}
}

func TestGetClaimObjectValueNotFound(t *testing.T) {
	claims := []byte(`{"user":{"plan":"enterprise"}}`)
	_, ok := GetClaim(claims, "user")
	if ok {
		t.Error("expected object-valued claim to report not found, not stringified")
	}
}

func TestResolveFallsBackToNoIdentityWhenClientIDMissing(t *testing.T) {
	claims := []byte(`{"iss":"https://issuer.example"}`)
	_, ok := Resolve(claims, "sub", "user.plan")
	if ok {
		t.Error("expected Resolve to report no identity when sub is absent")
	}
}

func TestResolveBuildsIdentityWithGroup(t *testing.T) {
	claims := []byte(`{"sub":"user-123","user":{"plan":"enterprise"}}`)
	id, ok := Resolve(claims, "sub", "user.plan")
	if !ok {
		t.Fatal("expected Resolve to succeed")
	}
	if id.ClientID != "user-123" || id.Group != "enterprise" {
		t.Errorf("id = %+v, want {user-123 enterprise}", id)
	}
}
