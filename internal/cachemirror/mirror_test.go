package cachemirror

import (
	"testing"
	"time"

	"github.com/opskb/ragd/internal/model"
)

func sampleEntry() *model.CacheEntry {
	return &model.CacheEntry{
		Key:       "fp-1",
		Embedding: model.Vector{0.1, 0.2, 0.3},
		Value: model.CachedAnswer{
			Text:      "restart the VPN client",
			Blocks:    []model.Block{{Type: "section", Text: "restart the VPN client"}},
			Citations: []model.Citation{{SourceId: "kb", DocId: "kb-1", Title: "VPN troubleshooting", URL: "https://kb/1"}},
			SizeBytes: 42,
		},
		TokensValue:      120,
		CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastAccessAt:     time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
		HitCount:         3,
		TTLBase:          time.Hour,
		ExpiresAt:        time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC),
		SemanticEligible: true,
	}
}

func TestRecordFromEntry_RoundTrips(t *testing.T) {
	entry := sampleEntry()

	rec, err := recordFromEntry(entry)
	if err != nil {
		t.Fatalf("recordFromEntry: %v", err)
	}
	got, err := rec.toEntry()
	if err != nil {
		t.Fatalf("toEntry: %v", err)
	}

	if got.Key != entry.Key {
		t.Errorf("Key = %q, want %q", got.Key, entry.Key)
	}
	if got.Value.Text != entry.Value.Text {
		t.Errorf("Value.Text = %q, want %q", got.Value.Text, entry.Value.Text)
	}
	if len(got.Value.Citations) != 1 || got.Value.Citations[0].DocId != "kb-1" {
		t.Errorf("Citations did not round-trip: %+v", got.Value.Citations)
	}
	if got.TTLBase != entry.TTLBase {
		t.Errorf("TTLBase = %v, want %v", got.TTLBase, entry.TTLBase)
	}
	if len(got.Embedding) != len(entry.Embedding) {
		t.Errorf("Embedding length = %d, want %d", len(got.Embedding), len(entry.Embedding))
	}
	if got.HitCount != entry.HitCount {
		t.Errorf("HitCount = %d, want %d", got.HitCount, entry.HitCount)
	}
}

func TestRedisEntryFrom_RoundTrips(t *testing.T) {
	entry := sampleEntry()

	re := redisEntryFrom(entry)
	got := re.toEntry()

	if got.Key != entry.Key {
		t.Errorf("Key = %q, want %q", got.Key, entry.Key)
	}
	if got.TTLBase != entry.TTLBase {
		t.Errorf("TTLBase = %v, want %v", got.TTLBase, entry.TTLBase)
	}
	if got.SemanticEligible != entry.SemanticEligible {
		t.Errorf("SemanticEligible = %v, want %v", got.SemanticEligible, entry.SemanticEligible)
	}
	if len(got.Value.Blocks) != len(entry.Value.Blocks) {
		t.Errorf("Blocks length = %d, want %d", len(got.Value.Blocks), len(entry.Value.Blocks))
	}
}

func TestOpen_NoneDriverReturnsNilMirror(t *testing.T) {
	m, err := Open(nil, "none", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m != nil {
		t.Errorf("Open(none) = %v, want nil", m)
	}

	m, err = Open(nil, "", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m != nil {
		t.Errorf("Open(\"\") = %v, want nil", m)
	}
}

func TestOpen_UnknownDriverErrors(t *testing.T) {
	if _, err := Open(nil, "carrier-pigeon", ""); err == nil {
		t.Error("Open(unknown driver) = nil error, want error")
	}
}
