package database

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/models"
)

// fakeRow feeds canned column values into scanReminder.
// Note: Full integration testing of the repository requires a database; these
// tests cover the column mapping logic.
type fakeRow struct {
	values []any
}

func (f *fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch v := f.values[i].(type) {
		case uuid.UUID:
			*d.(*uuid.UUID) = v
		case string:
			switch p := d.(type) {
			case *string:
				*p = v
			case *models.ReminderStatus:
				*p = models.ReminderStatus(v)
			}
		case int:
			*d.(*int) = v
		case int64:
			*d.(*int64) = v
		case []byte:
			*d.(*[]byte) = v
		case time.Time:
			switch p := d.(type) {
			case *time.Time:
				*p = v
			case *sql.NullTime:
				*p = sql.NullTime{Time: v, Valid: true}
			}
		case nil:
			// NullTime columns stay invalid
		}
	}
	return nil
}

func TestScanReminder_ColumnMapping(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	userID := uuid.New()
	scheduledFor := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	created := scheduledFor.Add(-24 * time.Hour)
	activated := scheduledFor.Add(time.Minute)

	end := scheduledFor.AddDate(0, 3, 0)
	recurrence := &models.RecurrenceRule{
		Type:       models.RecurrenceWeekly,
		Interval:   2,
		DaysOfWeek: []time.Weekday{time.Monday, time.Thursday},
		EndDate:    &end,
	}
	geozone := &models.Geozone{
		Name:      "office",
		Latitude:  52.52,
		Longitude: 13.405,
		RadiusM:   150,
		Trigger:   models.GeozoneTriggerEnter,
	}
	recurrenceJSON, _ := json.Marshal(recurrence)
	geozoneJSON, _ := json.Marshal(geozone)

	row := &fakeRow{values: []any{
		id, userID, int64(77), "water plants", 4, string(models.ReminderStatusActive),
		scheduledFor, recurrenceJSON, geozoneJSON, 3, nil, activated, nil,
		created, created, nil, int64(5),
	}}

	got, err := scanReminder(row)
	if err != nil {
		t.Fatalf("scanReminder: %v", err)
	}

	if got.ID != id || got.UserID != userID || got.ChatID != 77 {
		t.Errorf("identity columns mismatched: %+v", got)
	}
	if got.ParanoiaLevel != 4 || got.Status != models.ReminderStatusActive {
		t.Errorf("level/status mismatched: %d %s", got.ParanoiaLevel, got.Status)
	}
	if got.Recurrence == nil || got.Recurrence.Type != models.RecurrenceWeekly || got.Recurrence.Interval != 2 {
		t.Errorf("recurrence not restored: %+v", got.Recurrence)
	}
	if len(got.Recurrence.DaysOfWeek) != 2 || got.Recurrence.DaysOfWeek[1] != time.Thursday {
		t.Errorf("recurrence day set not restored: %v", got.Recurrence.DaysOfWeek)
	}
	if got.Geozone == nil || got.Geozone.Name != "office" || got.Geozone.Trigger != models.GeozoneTriggerEnter {
		t.Errorf("geozone not restored: %+v", got.Geozone)
	}
	if got.EscalationCount != 3 {
		t.Errorf("escalation count = %d", got.EscalationCount)
	}
	if got.ActivatedAt == nil || !got.ActivatedAt.Equal(activated) {
		t.Errorf("activatedAt = %v", got.ActivatedAt)
	}
	if got.LastEscalationAt != nil || got.GeoTriggeredAt != nil || got.CompletedAt != nil {
		t.Error("null timestamps should stay nil")
	}
	if got.Version != 5 {
		t.Errorf("version = %d, want 5", got.Version)
	}
}

func TestScanReminder_NullRuleColumns(t *testing.T) {
	t.Parallel()

	row := &fakeRow{values: []any{
		uuid.New(), uuid.New(), int64(0), "plain", 0, string(models.ReminderStatusPending),
		time.Now(), []byte(nil), []byte(nil), 0, nil, nil, nil,
		time.Now(), time.Now(), nil, int64(0),
	}}

	got, err := scanReminder(row)
	if err != nil {
		t.Fatalf("scanReminder: %v", err)
	}
	if got.Recurrence != nil || got.Geozone != nil {
		t.Error("null rule columns should stay nil")
	}
}

func TestMarshalRuleColumns(t *testing.T) {
	t.Parallel()

	plain := &models.Reminder{}
	recJSON, geoJSON, err := marshalRuleColumns(plain)
	if err != nil {
		t.Fatalf("marshalRuleColumns: %v", err)
	}
	if recJSON != nil || geoJSON != nil {
		t.Error("nil rules should produce nil columns, not empty JSON")
	}

	withRules := &models.Reminder{
		Recurrence: &models.RecurrenceRule{Type: models.RecurrenceDaily, Interval: 1},
		Geozone:    &models.Geozone{Name: "home", RadiusM: 100, Trigger: models.GeozoneTriggerExit},
	}
	recJSON, geoJSON, err = marshalRuleColumns(withRules)
	if err != nil {
		t.Fatalf("marshalRuleColumns: %v", err)
	}

	var rule models.RecurrenceRule
	if err := json.Unmarshal(recJSON, &rule); err != nil || rule.Type != models.RecurrenceDaily {
		t.Errorf("recurrence column not round-trippable: %v %+v", err, rule)
	}
	var zone models.Geozone
	if err := json.Unmarshal(geoJSON, &zone); err != nil || zone.Trigger != models.GeozoneTriggerExit {
		t.Errorf("geozone column not round-trippable: %v %+v", err, zone)
	}
}
