package sessionstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestBucketHistory(t *testing.T) {
	var all []models.Message
	for i := 0; i < 60; i++ {
		all = append(all, models.Message{
			Role:    models.RoleUser,
			Content: strings.Repeat(fmt.Sprintf("m%d ", i), 200),
		})
	}
	hist := bucketHistory(all)
	if len(hist.Recent) != recentCount {
		t.Errorf("recent = %d, want %d", len(hist.Recent), recentCount)
	}
	if len(hist.MidTerm) != midTermCount {
		t.Errorf("midTerm = %d, want %d", len(hist.MidTerm), midTermCount)
	}
	if len(hist.Old) != 60-recentCount-midTermCount {
		t.Errorf("old = %d, want %d", len(hist.Old), 60-recentCount-midTermCount)
	}
	if len(hist.Old[0].Content) > oldChars+3 {
		t.Errorf("old content not ultra-brief: %d chars", len(hist.Old[0].Content))
	}
	if len(hist.MidTerm[0].Content) > midTermChars+3 {
		t.Errorf("mid-term content not truncated: %d chars", len(hist.MidTerm[0].Content))
	}
	if len(hist.Recent[0].Content) < midTermChars {
		t.Error("recent content was truncated")
	}
}

func TestBucketHistory_Short(t *testing.T) {
	hist := bucketHistory([]models.Message{{Content: "only"}})
	if len(hist.Recent) != 1 || len(hist.MidTerm) != 0 || len(hist.Old) != 0 {
		t.Errorf("short history bucketed wrong: %d/%d/%d", len(hist.Old), len(hist.MidTerm), len(hist.Recent))
	}
}

func TestInProcessStore_BaselineRoundTrip(t *testing.T) {
	store := NewInProcess()
	ctx := context.Background()

	got, err := store.GetKPIBaseline(ctx, "s1")
	if err != nil || got != nil {
		t.Fatalf("empty baseline = %+v, %v; want nil, nil", got, err)
	}
	err = store.UpdateKPIBaseline(ctx, "s1", func(b *models.KPIBaseline) {
		b.RecordSample(0.1, 0.5, 0.0, 4000, 0.6, 0.9)
	})
	if err != nil {
		t.Fatalf("UpdateKPIBaseline: %v", err)
	}
	got, err = store.GetKPIBaseline(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("baseline = %+v, %v", got, err)
	}
	if got.Samples != 1 || got.EvidenceDensityEma != 0.5 {
		t.Errorf("baseline = %+v, want seeded EMA 0.5", got)
	}
	// First sample seeds the EMA; the second blends with alpha 0.25.
	store.UpdateKPIBaseline(ctx, "s1", func(b *models.KPIBaseline) {
		b.RecordSample(0.1, 1.0, 0.0, 4000, 0.6, 0.9)
	})
	got, _ = store.GetKPIBaseline(ctx, "s1")
	if want := 0.25*1.0 + 0.75*0.5; got.EvidenceDensityEma != want {
		t.Errorf("EMA = %v, want %v", got.EvidenceDensityEma, want)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	msgs := []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "second"},
	}
	if err := store.AppendMessages(ctx, "s1", msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	hist, err := store.GetConversationHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("GetConversationHistory: %v", err)
	}
	if len(hist.Recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(hist.Recent))
	}
	if hist.Recent[0].Content != "first" {
		t.Errorf("order wrong: %q", hist.Recent[0].Content)
	}

	if err := store.UpdateKPIBaseline(ctx, "s1", func(b *models.KPIBaseline) {
		b.RecordSample(0, 0.4, 0, 1000, 0.5, 0.8)
	}); err != nil {
		t.Fatalf("UpdateKPIBaseline: %v", err)
	}
	baseline, err := store.GetKPIBaseline(ctx, "s1")
	if err != nil || baseline == nil {
		t.Fatalf("GetKPIBaseline: %+v, %v", baseline, err)
	}
	if baseline.Samples != 1 {
		t.Errorf("samples = %d, want 1", baseline.Samples)
	}
}
