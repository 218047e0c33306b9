package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestReminderStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   ReminderStatus
		terminal bool
	}{
		{"pending", ReminderStatusPending, false},
		{"active", ReminderStatusActive, false},
		{"snoozed", ReminderStatusSnoozed, false},
		{"completed", ReminderStatusCompleted, true},
		{"cancelled", ReminderStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestClampParanoia(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level int
		want  int
	}{
		{"below range", -3, 0},
		{"lower bound", 0, 0},
		{"in range", 3, 3},
		{"upper bound", 5, 5},
		{"above range", 12, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ClampParanoia(tt.level); got != tt.want {
				t.Errorf("ClampParanoia(%d) = %d, want %d", tt.level, got, tt.want)
			}
		})
	}
}

func TestGeozoneEvent_Matches(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	reminder := &Reminder{
		ID:     uuid.New(),
		UserID: userID,
		Geozone: &Geozone{
			Name:    "home",
			RadiusM: 100,
			Trigger: GeozoneTriggerEnter,
		},
	}

	tests := []struct {
		name  string
		event GeozoneEvent
		want  bool
	}{
		{
			name:  "matching zone and trigger",
			event: GeozoneEvent{UserID: userID, Zone: "home", Trigger: GeozoneTriggerEnter},
			want:  true,
		},
		{
			name:  "wrong trigger",
			event: GeozoneEvent{UserID: userID, Zone: "home", Trigger: GeozoneTriggerExit},
			want:  false,
		},
		{
			name:  "wrong zone",
			event: GeozoneEvent{UserID: userID, Zone: "office", Trigger: GeozoneTriggerEnter},
			want:  false,
		},
		{
			name:  "wrong user",
			event: GeozoneEvent{UserID: uuid.New(), Zone: "home", Trigger: GeozoneTriggerEnter},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.event.Matches(reminder); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("reminder without geozone never matches", func(t *testing.T) {
		t.Parallel()
		plain := &Reminder{ID: uuid.New(), UserID: userID}
		ev := GeozoneEvent{UserID: userID, Zone: "home", Trigger: GeozoneTriggerEnter}
		if ev.Matches(plain) {
			t.Error("expected no match for reminder without geozone")
		}
	})
}
