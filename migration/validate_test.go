package migration

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/migration_backend/models"
)

// fakeKeyResolver answers referential lookups from in-memory sets, one per
// scope, keyed "EntityType|key".
type fakeKeyResolver struct {
	sessionKeys map[string]bool
	targetKeys  map[string]bool
}

func newFakeKeyResolver() *fakeKeyResolver {
	return &fakeKeyResolver{
		sessionKeys: map[string]bool{},
		targetKeys:  map[string]bool{},
	}
}

func refKey(entityType models.MigrationEntityType, key string) string {
	return string(entityType) + "|" + key
}

func (r *fakeKeyResolver) SessionHasKey(_ context.Context, _ string, entityType models.MigrationEntityType, key string) (bool, error) {
	return r.sessionKeys[refKey(entityType, key)], nil
}

func (r *fakeKeyResolver) TargetHasKey(_ context.Context, _ string, entityType models.MigrationEntityType, key string) (bool, error) {
	return r.targetKeys[refKey(entityType, key)], nil
}

func TestEvaluateRows_OneMalformedRowDoesNotAbortTheChunk(t *testing.T) {
	resolver := newFakeKeyResolver()
	rows := []RawRow{
		{"kod": "C-1", "ad": "Hirdavat"},
		{"zzz": "garbage"},
		{"kod": "C-2", "ad": "Elektrik"},
	}
	verdicts, err := EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeCategory, rows, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(verdicts) != 3 {
		t.Fatalf("expected a verdict per row, got %d", len(verdicts))
	}
	if verdicts[0].State != models.MigrationRecordStateValid {
		t.Fatalf("row 0 state = %s, want Valid", verdicts[0].State)
	}
	if verdicts[1].State != models.MigrationRecordStateError {
		t.Fatalf("row 1 state = %s, want Error", verdicts[1].State)
	}
	if verdicts[2].State != models.MigrationRecordStateValid {
		t.Fatalf("row 2 state = %s, want Valid", verdicts[2].State)
	}
	if verdicts[2].RowIndex != 2 {
		t.Fatalf("row index = %d, want 2", verdicts[2].RowIndex)
	}
}

func TestEvaluateRows_UnresolvedReferenceIsAnError(t *testing.T) {
	resolver := newFakeKeyResolver()
	rows := []RawRow{
		{"raf kodu": "R-1", "ad": "Raf 1", "depo kodu": "D-404"},
	}
	verdicts, err := EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeLocation, rows, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdicts[0].State != models.MigrationRecordStateError {
		t.Fatalf("state = %s, want Error", verdicts[0].State)
	}
	f := findingWithCode(verdicts[0].Findings, models.MigrationErrorCodeUnresolvedReference)
	if f == nil {
		t.Fatalf("expected UnresolvedReference, got %+v", verdicts[0].Findings)
	}
	if f.Field != "warehouse_code" {
		t.Fatalf("finding field = %q", f.Field)
	}
}

func TestEvaluateRows_ReferenceResolvesFromSessionOrTarget(t *testing.T) {
	resolver := newFakeKeyResolver()
	resolver.sessionKeys[refKey(models.MigrationEntityTypeWarehouse, "D-1")] = true
	resolver.targetKeys[refKey(models.MigrationEntityTypeWarehouse, "D-OLD")] = true

	rows := []RawRow{
		{"raf kodu": "R-1", "ad": "Raf 1", "depo kodu": "D-1"},
		{"raf kodu": "R-2", "ad": "Raf 2", "depo kodu": "D-OLD"},
	}
	verdicts, err := EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeLocation, rows, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range verdicts {
		if v.State != models.MigrationRecordStateValid {
			t.Fatalf("row %d state = %s (findings %+v), want Valid", i, v.State, v.Findings)
		}
	}
}

func TestEvaluateRows_DuplicateBusinessKeyWarnsWithinChunk(t *testing.T) {
	resolver := newFakeKeyResolver()
	rows := []RawRow{
		{"kod": "C-1", "ad": "Hirdavat"},
		{"kod": "C-1", "ad": "Hirdavat (tekrar)"},
	}
	verdicts, err := EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeCategory, rows, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdicts[0].State != models.MigrationRecordStateValid {
		t.Fatalf("first occurrence state = %s, want Valid", verdicts[0].State)
	}
	if verdicts[1].State != models.MigrationRecordStateWarning {
		t.Fatalf("duplicate state = %s, want Warning", verdicts[1].State)
	}
	if findingWithCode(verdicts[1].Findings, models.MigrationErrorCodeDuplicateBusinessKey) == nil {
		t.Fatalf("expected DuplicateBusinessKey, got %+v", verdicts[1].Findings)
	}
}

func TestEvaluateRows_DuplicateBusinessKeyWarnsAcrossChunks(t *testing.T) {
	resolver := newFakeKeyResolver()
	// key registered by an earlier chunk of the same session
	resolver.sessionKeys[refKey(models.MigrationEntityTypeCategory, "C-1")] = true

	rows := []RawRow{{"kod": "C-1", "ad": "Hirdavat"}}
	verdicts, err := EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeCategory, rows, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdicts[0].State != models.MigrationRecordStateWarning {
		t.Fatalf("state = %s, want Warning", verdicts[0].State)
	}
}

func TestEvaluateRows_DuplicateKeySplitAcrossSameTypeChunks(t *testing.T) {
	resolver := newFakeKeyResolver()

	chunk1 := []RawRow{
		{"kod": "C-1", "ad": "Hirdavat"},
		{"kod": "C-2", "ad": "Elektrik"},
	}
	verdicts, err := EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeCategory, chunk1, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range verdicts {
		if v.State != models.MigrationRecordStateValid {
			t.Fatalf("first chunk row %d state = %s, want Valid", v.RowIndex, v.State)
		}
	}
	// chunks of one type validate in sequence order: the first chunk's keys
	// are registered before the second chunk starts
	for _, v := range verdicts {
		resolver.sessionKeys[refKey(models.MigrationEntityTypeCategory, v.BusinessKey)] = true
	}

	chunk2 := []RawRow{
		{"kod": "C-2", "ad": "Elektrik (tekrar)"},
		{"kod": "C-3", "ad": "Boya"},
	}
	verdicts, err = EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeCategory, chunk2, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdicts[0].State != models.MigrationRecordStateWarning {
		t.Fatalf("repeated key state = %s, want Warning", verdicts[0].State)
	}
	if findingWithCode(verdicts[0].Findings, models.MigrationErrorCodeDuplicateBusinessKey) == nil {
		t.Fatalf("expected DuplicateBusinessKey, got %+v", verdicts[0].Findings)
	}
	if verdicts[1].State != models.MigrationRecordStateValid {
		t.Fatalf("fresh key state = %s, want Valid", verdicts[1].State)
	}
}

// Category chunk first, then a Product chunk referencing it; mirrors the
// two-entity Excel flow end to end at the rule-pipeline level.
func TestEvaluateRows_CategoryThenProductScenario(t *testing.T) {
	resolver := newFakeKeyResolver()

	categories := []RawRow{
		{"kod": "C-1", "ad": "Hirdavat"},
		{"kod": "C-2", "ad": "Elektrik"},
		{"kod": "C-3", "ad": "Boya"},
	}
	verdicts, err := EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeCategory, categories, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counts := CountVerdicts(verdicts)
	if counts.Valid != 3 || counts.Error != 0 {
		t.Fatalf("category counts = %+v", counts)
	}
	// validation registers non-Error keys before dependent types run
	for _, v := range verdicts {
		resolver.sessionKeys[refKey(models.MigrationEntityTypeCategory, v.BusinessKey)] = true
	}

	products := []RawRow{
		{"stok kodu": "P-1", "stok adi": "Cekic", "kategori kodu": "C-1"},
		{"stok kodu": "P-2", "stok adi": "Matkap", "kategori kodu": "C-2"},
		{"stok kodu": "P-3", "stok adi": "Vida", "kategori kodu": "C-1"},
		{"stok kodu": "P-4", "stok adi": "Rulo", "kategori kodu": "C-3"},
		{"stok kodu": "P-5", "stok adi": "Aski", "kategori kodu": "C-404"},
	}
	verdicts, err = EvaluateRows(context.Background(), "biz-1", "sess-1", models.MigrationEntityTypeProduct, products, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counts = CountVerdicts(verdicts)
	if counts.Valid != 4 || counts.Error != 1 {
		t.Fatalf("product counts = %+v", counts)
	}
	bad := verdicts[4]
	if bad.State != models.MigrationRecordStateError {
		t.Fatalf("P-5 state = %s, want Error", bad.State)
	}
	if findingWithCode(bad.Findings, models.MigrationErrorCodeUnresolvedReference) == nil {
		t.Fatalf("expected UnresolvedReference on P-5, got %+v", bad.Findings)
	}
}

func TestVerdictState_WorstFindingWins(t *testing.T) {
	warn := models.MigrationFinding{Severity: models.MigrationRecordStateWarning}
	fail := models.MigrationFinding{Severity: models.MigrationRecordStateError}

	if got := verdictState(nil); got != models.MigrationRecordStateValid {
		t.Fatalf("no findings: %s", got)
	}
	if got := verdictState([]models.MigrationFinding{warn}); got != models.MigrationRecordStateWarning {
		t.Fatalf("warning only: %s", got)
	}
	if got := verdictState([]models.MigrationFinding{warn, fail, warn}); got != models.MigrationRecordStateError {
		t.Fatalf("mixed findings: %s", got)
	}
}

func TestCountVerdicts(t *testing.T) {
	verdicts := []RecordVerdict{
		{State: models.MigrationRecordStateValid},
		{State: models.MigrationRecordStateValid},
		{State: models.MigrationRecordStateWarning},
		{State: models.MigrationRecordStateError},
	}
	counts := CountVerdicts(verdicts)
	if counts.Total != 4 || counts.Valid != 2 || counts.Warning != 1 || counts.Error != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}
