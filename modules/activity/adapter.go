package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// activityAdapter calls the activity module's request-reply service.
type activityAdapter struct {
	container mono.ServiceContainer
}

// NewActivityAdapter creates an ActivityPort backed by the activity
// module's service container.
func NewActivityAdapter(container mono.ServiceContainer) ActivityPort {
	if container == nil {
		panic("activity adapter requires non-nil ServiceContainer")
	}
	return &activityAdapter{container: container}
}

// ListActivity fetches the feed via the list service.
func (a *activityAdapter) ListActivity(ctx context.Context, taskID int64, limit int) (*ListActivityResponse, error) {
	req := ListActivityRequest{TaskID: taskID, Limit: limit}
	var resp ListActivityResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"list",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("list activity service call failed: %w", err)
	}
	return &resp, nil
}
