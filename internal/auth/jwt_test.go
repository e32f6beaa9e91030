package auth

import (
	"testing"
	"time"
)

const (
	testKey    = "unit-test-signing-key"
	testIssuer = "faris-attendance"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("station-7", "station", testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "station-7" {
		t.Errorf("subject: want station-7, got %s", claims.Subject)
	}
	if claims.Role != "station" {
		t.Errorf("role: want station, got %s", claims.Role)
	}
}

func TestParse_WrongKey(t *testing.T) {
	pair, err := Issue("station-7", "station", testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "some-other-key", testIssuer); err == nil {
		t.Error("token signed with a different key must not parse")
	}
}

func TestParse_IssuerMismatch(t *testing.T) {
	pair, err := Issue("station-7", "station", "rogue-issuer", testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, testKey, testIssuer); err == nil {
		t.Error("issuer mismatch must be rejected")
	}
}

func TestParse_Expired(t *testing.T) {
	pair, err := Issue("station-7", "station", testIssuer, testKey, -time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, testKey, testIssuer); err == nil {
		t.Error("expired token must be rejected")
	}
}
