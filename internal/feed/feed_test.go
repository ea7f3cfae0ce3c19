package feed

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"tasksync/internal/model"
)

type triggers []model.Collection

func (t *triggers) Trigger(c model.Collection) { *t = append(*t, c) }

func TestChangeHandler(t *testing.T) {
	tests := []struct {
		name       string
		routingKey string
		payload    string
		want       []model.Collection
	}{
		{"tasks key", "records.tasks.changed", `{}`, []model.Collection{model.CollectionTasks}},
		{"profiles key", "records.profiles.changed", ``, []model.Collection{model.CollectionProfiles}},
		{"payload fallback", "records.changed", `{"collection":"notifications","op":"insert"}`, []model.Collection{model.CollectionNotifications}},
		{"unknown collection", "records.emails.changed", `{"collection":"emails"}`, nil},
		{"garbage payload", "other", `not json`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got triggers
			h := NewChangeHandler(&got, zap.NewNop())

			if err := h.Handle(context.Background(), tt.routingKey, json.RawMessage(tt.payload)); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("triggers = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("triggers = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
