package models

import (
	"encoding/json"
	"testing"
)

func TestSessionStateTerminality(t *testing.T) {
	terminal := []MigrationSessionState{
		MigrationSessionStateCompleted,
		MigrationSessionStateFailed,
		MigrationSessionStateCancelled,
		MigrationSessionStateExpired,
	}
	live := []MigrationSessionState{
		MigrationSessionStateCreated,
		MigrationSessionStateUploading,
		MigrationSessionStateUploaded,
		MigrationSessionStateValidating,
		MigrationSessionStateValidated,
		MigrationSessionStateImporting,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	for _, s := range live {
		if s.IsTerminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestSessionStateTransitions(t *testing.T) {
	allowed := [][2]MigrationSessionState{
		{MigrationSessionStateCreated, MigrationSessionStateUploading},
		{MigrationSessionStateCreated, MigrationSessionStateUploaded},
		{MigrationSessionStateUploading, MigrationSessionStateUploaded},
		{MigrationSessionStateUploaded, MigrationSessionStateValidating},
		{MigrationSessionStateValidating, MigrationSessionStateValidated},
		{MigrationSessionStateValidating, MigrationSessionStateFailed},
		{MigrationSessionStateValidated, MigrationSessionStateImporting},
		{MigrationSessionStateImporting, MigrationSessionStateCompleted},
		{MigrationSessionStateImporting, MigrationSessionStateFailed},
	}
	for _, tc := range allowed {
		if !tc[0].CanTransitionTo(tc[1]) {
			t.Fatalf("%s -> %s must be allowed", tc[0], tc[1])
		}
	}

	denied := [][2]MigrationSessionState{
		{MigrationSessionStateCreated, MigrationSessionStateImporting},
		{MigrationSessionStateUploaded, MigrationSessionStateImporting},
		{MigrationSessionStateValidated, MigrationSessionStateCompleted},
		{MigrationSessionStateImporting, MigrationSessionStateValidating},
	}
	for _, tc := range denied {
		if tc[0].CanTransitionTo(tc[1]) {
			t.Fatalf("%s -> %s must be denied", tc[0], tc[1])
		}
	}

	// cancel/expire apply from any live state, never from a terminal one
	for _, s := range []MigrationSessionState{
		MigrationSessionStateCreated,
		MigrationSessionStateValidating,
		MigrationSessionStateImporting,
	} {
		if !s.CanTransitionTo(MigrationSessionStateCancelled) {
			t.Fatalf("%s -> Cancelled must be allowed", s)
		}
		if !s.CanTransitionTo(MigrationSessionStateExpired) {
			t.Fatalf("%s -> Expired must be allowed", s)
		}
	}
	for _, s := range []MigrationSessionState{
		MigrationSessionStateCompleted,
		MigrationSessionStateCancelled,
	} {
		if s.CanTransitionTo(MigrationSessionStateCancelled) {
			t.Fatalf("terminal %s must not transition", s)
		}
	}
}

func TestSourceTypeFileVsLive(t *testing.T) {
	if !MigrationSourceTypeExcel.IsFileSource() {
		t.Fatal("Excel is a file source")
	}
	for _, st := range []MigrationSourceType{
		MigrationSourceTypeLogo,
		MigrationSourceTypeEta,
		MigrationSourceTypeMikro,
		MigrationSourceTypeNetsis,
		MigrationSourceTypeParasut,
		MigrationSourceTypeGenericSql,
	} {
		if st.IsFileSource() {
			t.Fatalf("%s must not be a file source", st)
		}
	}
	if MigrationSourceType("Tally").IsValid() {
		t.Fatal("unknown source type must not validate")
	}
}

func TestRecordReportFields_FixOverridesOriginals(t *testing.T) {
	fields, _ := json.Marshal(map[string]string{"code": "C-1", "name": "Hirdavat"})
	fix, _ := json.Marshal(map[string]string{"name": "Hırdavat"})
	record := &MigrationRecordReport{FieldsJSON: fields, FixJSON: fix}

	merged := record.Fields()
	if merged["code"] != "C-1" {
		t.Fatalf("untouched field lost: %+v", merged)
	}
	if merged["name"] != "Hırdavat" {
		t.Fatalf("fix not applied: %+v", merged)
	}
}

func TestRecordReportFields_CorruptJsonDegradesToEmpty(t *testing.T) {
	record := &MigrationRecordReport{FieldsJSON: []byte("{broken")}
	if got := record.Fields(); len(got) != 0 {
		t.Fatalf("expected empty map, got %+v", got)
	}
}

func TestSessionStatsRoundTrip(t *testing.T) {
	in := map[MigrationEntityType]*EntityStats{
		MigrationEntityTypeProduct: {ChunksTotal: 3, Records: 250, Valid: 240, Warning: 8, Error: 2},
	}
	out := DecodeSessionStats(EncodeSessionStats(in))
	entry := out[MigrationEntityTypeProduct]
	if entry == nil || entry.Records != 250 || entry.Error != 2 {
		t.Fatalf("stats round trip mismatch: %+v", entry)
	}

	if got := DecodeSessionStats(nil); len(got) != 0 {
		t.Fatalf("nil stats must decode to empty map, got %+v", got)
	}
	if got := DecodeSessionStats([]byte("{broken")); len(got) != 0 {
		t.Fatalf("corrupt stats must decode to empty map, got %+v", got)
	}
}

func TestCursorStateRoundTrip(t *testing.T) {
	in := map[MigrationEntityType]string{
		MigrationEntityTypeProduct:  "after:STK-00412",
		MigrationEntityTypeCustomer: "__done__",
	}
	out := DecodeCursorState(EncodeCursorState(in))
	if out[MigrationEntityTypeProduct] != "after:STK-00412" {
		t.Fatalf("cursor round trip mismatch: %+v", out)
	}
	if out[MigrationEntityTypeCustomer] != "__done__" {
		t.Fatalf("cursor round trip mismatch: %+v", out)
	}
}

func TestSessionEntityTypes(t *testing.T) {
	raw, _ := json.Marshal([]MigrationEntityType{
		MigrationEntityTypeCategory,
		MigrationEntityTypeProduct,
	})
	session := &MigrationSession{EntityTypesJSON: raw}
	if got := session.EntityTypes(); len(got) != 2 || got[1] != MigrationEntityTypeProduct {
		t.Fatalf("entity types = %+v", got)
	}
	if !session.HasEntityType(MigrationEntityTypeCategory) {
		t.Fatal("HasEntityType must find Category")
	}
	if session.HasEntityType(MigrationEntityTypeSupplier) {
		t.Fatal("HasEntityType must reject Supplier")
	}
}
