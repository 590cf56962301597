package migration

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/migration_backend/models"
)

func TestSnapshotOf_CarriesTenantOwnership(t *testing.T) {
	session := &models.MigrationSession{
		ID:           "sess-1",
		BusinessId:   "biz-a",
		SourceType:   models.MigrationSourceTypeExcel,
		State:        models.MigrationSessionStateValidated,
		RecordsTotal: 10,
		RecordsValid: 9,
		RecordsError: 1,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	snapshot := snapshotOf(session)
	if snapshot.BusinessId != "biz-a" {
		t.Fatalf("snapshot business id = %q, want biz-a", snapshot.BusinessId)
	}
	if snapshot.SessionId != "sess-1" || snapshot.State != models.MigrationSessionStateValidated {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot.Records.Total != 10 || snapshot.Records.Error != 1 {
		t.Fatalf("record counters = %+v", snapshot.Records)
	}
}

func TestSnapshotServable_RejectsOtherTenants(t *testing.T) {
	snapshot := &SessionSnapshot{SessionId: "sess-1", BusinessId: "biz-a"}
	if !snapshotServable(snapshot, "biz-a") {
		t.Fatal("owner must be served from cache")
	}
	if snapshotServable(snapshot, "biz-b") {
		t.Fatal("a cached snapshot must never serve another tenant")
	}
	if snapshotServable(nil, "biz-a") {
		t.Fatal("nil snapshot must not be servable")
	}
}
