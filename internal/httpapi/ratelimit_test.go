package httpapi

import "testing"

func TestRepositoryLimiter(t *testing.T) {
	if l := NewRepositoryLimiter(0); l != nil {
		t.Fatalf("NewRepositoryLimiter(0) = %v, want nil", l)
	}
	var disabled *RepositoryLimiter
	if !disabled.Allow("acme/site") {
		t.Fatalf("nil limiter must allow")
	}

	l := NewRepositoryLimiter(20)
	for i := 0; i < 2; i++ {
		if !l.Allow("acme/site") {
			t.Fatalf("Allow() #%d = false, want true within burst", i)
		}
	}
	if l.Allow("ACME/site") {
		t.Fatalf("Allow() beyond burst = true, want false")
	}
	if !l.Allow("acme/other") {
		t.Fatalf("other repository should have its own budget")
	}
}
