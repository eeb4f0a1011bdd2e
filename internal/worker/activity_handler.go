package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"codecollab/internal/repository"
	"codecollab/internal/tasks"
)

// ActivitySweepHandler drops activity-tracking entries for rooms idle past
// the cutoff and reports how many rooms are still live.
type ActivitySweepHandler struct {
	stateRepo repository.StateRepository
}

func NewActivitySweepHandler(stateRepo repository.StateRepository) *ActivitySweepHandler {
	if stateRepo == nil {
		panic("StateRepository cannot be nil for ActivitySweepHandler")
	}
	return &ActivitySweepHandler{stateRepo: stateRepo}
}

func (h *ActivitySweepHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload tasks.RoomActivitySweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", tasks.TypeRoomActivitySweep, err)
	}
	if payload.IdleCutoffMinutes <= 0 {
		payload.IdleCutoffMinutes = 24 * 60
	}
	cutoff := time.Now().Add(-time.Duration(payload.IdleCutoffMinutes) * time.Minute)

	activity, err := h.stateRepo.ListRoomActivity(ctx)
	if err != nil {
		return fmt.Errorf("failed to list room activity: %w", err)
	}

	var stale []string
	for roomID, lastActive := range activity {
		if lastActive.Before(cutoff) {
			stale = append(stale, roomID)
		}
	}
	if len(stale) > 0 {
		if err := h.stateRepo.ClearRoomActivity(ctx, stale); err != nil {
			return fmt.Errorf("failed to clear stale room activity: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"component":     "worker",
		"tracked_rooms": len(activity),
		"swept_rooms":   len(stale),
	}).Info("Room activity sweep complete")
	return nil
}
