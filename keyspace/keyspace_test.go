package keyspace_test

import (
	"testing"

	"github.com/xraph/reportflow/keyspace"
)

func TestNormalizeEnv(t *testing.T) {
	tests := map[string]string{
		"development": "dev",
		"":            "dev",
		"test":        "stg",
		"production":  "prod",
		" PROD ":      "prod",
		"qa-cluster":  "dev",
	}
	for in, want := range tests {
		if got := keyspace.NormalizeEnv(in); got != want {
			t.Errorf("NormalizeEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLockKeys(t *testing.T) {
	k := keyspace.New("production")

	if got, want := k.PollerLock(), "prod:t:_:lock:scheduler:report-scheduler"; got != want {
		t.Errorf("PollerLock() = %q, want %q", got, want)
	}
	if got, want := k.ScheduleLock("acme", "rsch_1"), "prod:t:acme:lock:schedule:rsch_1"; got != want {
		t.Errorf("ScheduleLock() = %q, want %q", got, want)
	}
	if got, want := k.RunLock("acme", "rrun_1"), "prod:t:acme:lock:report-run:rrun_1"; got != want {
		t.Errorf("RunLock() = %q, want %q", got, want)
	}
}

func TestSegmentsAreEncoded(t *testing.T) {
	k := keyspace.New("dev")
	got := k.RunLock("acme corp:eu", "r 1")
	if want := "dev:t:acme%20corp%3Aeu:lock:report-run:r%201"; got != want {
		t.Errorf("RunLock() = %q, want %q", got, want)
	}
}

func TestDistinctTenantsNeverShareKeys(t *testing.T) {
	k := keyspace.New("dev")
	tenants := []string{"a:b", "a b", "a_b", "a%3Ab", "a%20b"}

	locks := map[string]string{}
	channels := map[string]string{}
	for _, tenant := range tenants {
		lk := k.RunLock(tenant, "rrun_1")
		if prev, ok := locks[lk]; ok {
			t.Errorf("tenants %q and %q share run lock %q", prev, tenant, lk)
		}
		locks[lk] = tenant

		ch := k.NotificationChannel(tenant)
		if prev, ok := channels[ch]; ok {
			t.Errorf("tenants %q and %q share channel %q", prev, tenant, ch)
		}
		channels[ch] = tenant
	}
}

func TestNotificationChannel(t *testing.T) {
	k := keyspace.New("test")
	if got, want := k.NotificationChannel("acme"), "stg:pubsub:t:acme:notification.created"; got != want {
		t.Errorf("NotificationChannel() = %q, want %q", got, want)
	}
}
