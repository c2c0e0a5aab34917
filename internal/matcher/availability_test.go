package matcher

import (
	"testing"

	"github.com/example/chairmatch/internal/models"
)

func TestFilterFree(t *testing.T) {
	active := []models.Chair{chair("a"), chair("b"), chair("c"), chair("d")}

	free := FilterFree(active, []string{"b", "d"})
	if len(free) != 2 {
		t.Fatalf("expected 2 free chairs, got %d", len(free))
	}
	if free[0].ID != "a" || free[1].ID != "c" {
		t.Fatalf("expected order-preserving filter, got %s,%s", free[0].ID, free[1].ID)
	}
}

func TestFilterFreeNoBusy(t *testing.T) {
	active := []models.Chair{chair("a"), chair("b")}
	free := FilterFree(active, nil)
	if len(free) != len(active) {
		t.Fatalf("expected all chairs free, got %d", len(free))
	}
}

func TestFilterFreeEmptyActive(t *testing.T) {
	if free := FilterFree(nil, []string{"a"}); free != nil {
		t.Fatalf("expected nil for empty active set, got %v", free)
	}
}

func TestFilterFreeBusyIDNotActive(t *testing.T) {
	active := []models.Chair{chair("a")}
	free := FilterFree(active, []string{"zzz"})
	if len(free) != 1 || free[0].ID != "a" {
		t.Fatalf("busy id outside the active set must not remove anything, got %v", free)
	}
}
