package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{PharmacyID: "ph-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.LogWithdrawalDecision(context.Background(), "adm-1", "super_admin", "ph-1", "wd-1", "approved", "{}")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].Type != EventTypeWithdrawalDecision {
		t.Fatalf("expected withdrawal_decision")
	}
	if evs[0].ActorAdminID != "adm-1" || evs[0].WithdrawalID != "wd-1" {
		t.Fatalf("actor/target not captured: %+v", evs[0])
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("id/timestamp not filled: %+v", evs[0])
	}
}
