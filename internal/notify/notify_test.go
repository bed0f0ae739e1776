package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

func TestQueueDrainAndCap(t *testing.T) {
	q := NewQueue(2)
	q.Notify(Success("Saved", "one"))
	q.Notify(Success("Saved", "two"))
	q.Notify(Failure("Save failed", errors.New("three")))

	assert.Equal(t, 2, q.Len())
	got := q.Drain()
	assert.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Message)
	assert.Equal(t, uint64(3), got[1].ID)
	assert.Equal(t, LevelError, got[1].Level)
	assert.False(t, got[1].At.IsZero())

	assert.Empty(t, q.Drain())
	assert.NotNil(t, q.Drain())
}

func TestDescribe(t *testing.T) {
	ve := &schema.ValidationError{Collection: "contact_submissions"}
	ve.Add("email", "required", "email is required")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", ve, ve.Error()},
		{"not found", &repository.NotFoundError{Collection: "markets", ID: "1"}, "The item no longer exists."},
		{"network", &repository.BackendError{Kind: repository.KindNetwork, Err: errors.New("reset")}, "Could not reach the content backend. Please try again."},
		{"auth", &repository.BackendError{Kind: repository.KindAuth, Err: errors.New("jwt")}, "You are not allowed to make this change."},
		{"constraint", fmt.Errorf("save: %w", &repository.BackendError{Kind: repository.KindConstraint, Err: errors.New("dup")}), "The change conflicts with existing content."},
		{"timeout", fmt.Errorf("save: %w", context.DeadlineExceeded), "The content backend did not respond in time. Please try again."},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.err))
		})
	}
}

func TestLoggedForwards(t *testing.T) {
	q := NewQueue(0)
	n := Logged(q, zerolog.Nop())
	n.Notify(Failure("Delete failed", errors.New("x")))
	Discard.Notify(Success("ignored", ""))
	assert.Equal(t, 1, q.Len())
}
