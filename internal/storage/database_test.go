package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/Ananth-NQI/glamping-leads/database"
	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Connect("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestDatabaseStoreSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewDatabaseStore(setupTestDB(t), Options{StateTTL: time.Hour})
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	phone := "+573001234567"

	fresh, err := st.Get(ctx, phone, now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.State != models.StateMenu || fresh.Context.City != "" {
		t.Fatalf("expected fresh MENU session, got %+v", fresh)
	}

	c := models.Context{City: "Cartagena", Reprompts: 1, Extra: map[string]string{"utm": "ad"}}
	if err := st.Put(ctx, phone, models.StateAwaitArrival, c, now); err != nil {
		t.Fatalf("put: %v", err)
	}
	// second put exercises the upsert path
	c.ArrivalDate = "2030-12-12"
	if err := st.Put(ctx, phone, models.StateAwaitDeparture, c, now.Add(time.Minute)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := st.Get(ctx, phone, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.StateAwaitDeparture {
		t.Fatalf("expected AWAIT_DEPARTURE, got %s", got.State)
	}
	if got.Context.City != "Cartagena" || got.Context.ArrivalDate != "2030-12-12" || got.Context.Extra["utm"] != "ad" {
		t.Fatalf("context not preserved: %+v", got.Context)
	}
	if !got.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected updated_at %v, got %v", now.Add(time.Minute), got.UpdatedAt)
	}
}

func TestDatabaseStoreTTLResetPersists(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	st := NewDatabaseStore(db, Options{StateTTL: time.Hour})
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	phone := "+573001234567"

	if err := st.Put(ctx, phone, models.StateAwaitCity, models.Context{PropertyID: "P1"}, now); err != nil {
		t.Fatalf("put: %v", err)
	}

	later := now.Add(61 * time.Minute)
	got, err := st.Get(ctx, phone, later)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.StateMenu || got.Context.PropertyID != "" {
		t.Fatalf("expected reset session, got %+v", got)
	}

	var row models.WhatsAppSession
	if err := db.First(&row, "phone_number = ?", phone).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.State != string(models.StateMenu) || !row.LastActivity.Equal(later) {
		t.Fatalf("reset was not persisted: %+v", row)
	}
}

func TestDatabaseStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	st := NewDatabaseStore(setupTestDB(t), Options{StateTTL: time.Hour})
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = st.Put(ctx, "+571", models.StateAwaitCity, models.Context{}, now.Add(-2*time.Hour))
	_ = st.Put(ctx, "+572", models.StateAwaitCity, models.Context{}, now)

	deleted, err := st.DeleteExpired(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
}

func TestDatabaseStoreLeadDedup(t *testing.T) {
	ctx := context.Background()
	st := NewDatabaseStore(setupTestDB(t), Options{LeadDedupWindow: 10 * time.Minute})
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	lead := models.Lead{
		Phone:           "+573001234567",
		PropertyID:      "P42",
		City:            "Cartagena",
		ArrivalDate:     "2030-12-12",
		DepartureDate:   "2030-12-15",
		Source:          models.SourceGoogle,
		Status:          models.LeadStatusNew,
		ContextSnapshot: models.Context{City: "Cartagena"},
		CreatedAt:       now,
	}
	first, err := st.Insert(ctx, lead)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	lead.CreatedAt = now.Add(5 * time.Minute)
	second, err := st.Insert(ctx, lead)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if second != first {
		t.Fatalf("expected duplicate to return %s, got %s", first, second)
	}

	lead.CreatedAt = now.Add(30 * time.Minute)
	third, err := st.Insert(ctx, lead)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if third == first {
		t.Fatalf("expected a new lead outside the dedup window")
	}

	leads, err := st.ListLeads(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("expected 2 leads, got %d", len(leads))
	}
	if leads[1].PropertyID != "P42" || leads[1].Status != models.LeadStatusNew || leads[1].ContextSnapshot.City != "Cartagena" {
		t.Fatalf("lead fields not preserved: %+v", leads[1])
	}
}
