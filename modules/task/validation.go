package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domain "github.com/example/task-service/domain/task"
)

// Validation tags checked through validator.Var.
var (
	titleTag       = fmt.Sprintf("min=1,max=%d", domain.MaxTitleLength)
	descriptionTag = fmt.Sprintf("max=%d", domain.MaxDescriptionLength)
	assigneeTag    = fmt.Sprintf("max=%d", domain.MaxAssigneeLength)
	tagCountTag    = fmt.Sprintf("max=%d", domain.MaxTags)
	tagLengthTag   = fmt.Sprintf("max=%d", domain.MaxTagLength)
	sizeTag        = fmt.Sprintf("min=1,max=%d", MaxSize)
)

// Validator enforces the task invariants on incoming payloads. Every
// violation is collected before an error is returned.
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

// NewValidator creates a validator. now is the clock due dates are checked
// against; nil means time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("task_status", func(fl validator.FieldLevel) bool {
		return domain.Status(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("task_priority", func(fl validator.FieldLevel) bool {
		return domain.Priority(fl.Field().String()).Valid()
	})

	return &Validator{v: v, now: now}
}

// ListQuery is a validated listing request.
type ListQuery struct {
	Filter domain.Filter
	Page   int
	Size   int
}

// Offset is the number of rows skipped before the page.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Size
}

// ValidateCreate checks a create payload and returns the task to persist
// with defaults applied. ID and CreatedAt are left unset.
func (val *Validator) ValidateCreate(req CreateTaskRequest) (*domain.Task, error) {
	verr := &domain.ValidationError{}

	t := &domain.Task{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      domain.StatusPending,
		Priority:    domain.PriorityMedium,
		Tags:        domain.NormalizeTags(req.Tags),
		AssignedTo:  req.AssignedTo,
		DueDate:     req.DueDate,
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}

	val.checkTitle(verr, t.Title)
	if t.Description != nil {
		val.checkDescription(verr, *t.Description)
	}
	val.checkStatus(verr, t.Status)
	val.checkPriority(verr, t.Priority)
	val.checkTags(verr, t.Tags)
	if t.AssignedTo != nil {
		val.checkAssignee(verr, *t.AssignedTo)
	}
	if t.DueDate != nil && !t.DueDate.After(val.now()) {
		verr.Add("due_date", domain.RuleFuture, "due_date must be in the future")
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// ValidateUpdate checks an update payload and returns the patch to apply.
// Explicit null is rejected for title, status and priority.
func (val *Validator) ValidateUpdate(req UpdateTaskRequest) (domain.Patch, error) {
	verr := &domain.ValidationError{}
	patch := domain.Patch{
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssignedTo:  req.AssignedTo,
		DueDate:     req.DueDate,
	}

	if req.Title.Set {
		if req.Title.Null {
			verr.Add("title", domain.RuleNotNull, "title cannot be null")
		} else {
			title := strings.TrimSpace(req.Title.Value)
			val.checkTitle(verr, title)
			patch.Title = domain.Some(title)
		}
	}
	if req.Description.Set && !req.Description.Null {
		val.checkDescription(verr, req.Description.Value)
	}
	if req.Status.Set {
		if req.Status.Null {
			verr.Add("status", domain.RuleNotNull, "status cannot be null")
		} else {
			val.checkStatus(verr, req.Status.Value)
		}
	}
	if req.Priority.Set {
		if req.Priority.Null {
			verr.Add("priority", domain.RuleNotNull, "priority cannot be null")
		} else {
			val.checkPriority(verr, req.Priority.Value)
		}
	}
	if req.Tags.Set {
		if req.Tags.Null {
			patch.Tags = domain.Null[[]string]()
		} else {
			tags := domain.NormalizeTags(req.Tags.Value)
			val.checkTags(verr, tags)
			patch.Tags = domain.Some(tags)
		}
	}
	if req.AssignedTo.Set && !req.AssignedTo.Null {
		val.checkAssignee(verr, req.AssignedTo.Value)
	}

	if err := verr.Err(); err != nil {
		return domain.Patch{}, err
	}
	return patch, nil
}

// ValidateList checks paging bounds and filter values.
func (val *Validator) ValidateList(req ListTasksRequest) (ListQuery, error) {
	verr := &domain.ValidationError{}
	q := ListQuery{Page: req.Page, Size: req.Size}

	if val.v.Var(req.Page, "min=1") != nil {
		verr.Add("page", domain.RuleRange, "page must be at least 1")
	}
	if val.v.Var(req.Size, sizeTag) != nil {
		verr.Add("size", domain.RuleRange, fmt.Sprintf("size must be between 1 and %d", MaxSize))
	}
	if req.Status != "" {
		status := domain.Status(req.Status)
		val.checkStatus(verr, status)
		q.Filter.Status = &status
	}
	if req.Priority != "" {
		priority := domain.Priority(req.Priority)
		val.checkPriority(verr, priority)
		q.Filter.Priority = &priority
	}
	if req.AssignedTo != "" {
		assignee := req.AssignedTo
		q.Filter.AssignedTo = &assignee
	}

	if err := verr.Err(); err != nil {
		return ListQuery{}, err
	}
	return q, nil
}

func (val *Validator) checkTitle(verr *domain.ValidationError, title string) {
	if val.v.Var(title, titleTag) != nil {
		verr.Add("title", domain.RuleLength,
			fmt.Sprintf("title must be between 1 and %d characters", domain.MaxTitleLength))
	}
}

func (val *Validator) checkDescription(verr *domain.ValidationError, description string) {
	if val.v.Var(description, descriptionTag) != nil {
		verr.Add("description", domain.RuleLength,
			fmt.Sprintf("description must be at most %d characters", domain.MaxDescriptionLength))
	}
}

func (val *Validator) checkStatus(verr *domain.ValidationError, s domain.Status) {
	if val.v.Var(string(s), "task_status") != nil {
		verr.Add("status", domain.RuleEnum, "status must be one of "+joinEnum(domain.Statuses()))
	}
}

func (val *Validator) checkPriority(verr *domain.ValidationError, p domain.Priority) {
	if val.v.Var(string(p), "task_priority") != nil {
		verr.Add("priority", domain.RuleEnum, "priority must be one of "+joinEnum(domain.Priorities()))
	}
}

func (val *Validator) checkTags(verr *domain.ValidationError, tags []string) {
	if val.v.Var(tags, tagCountTag) != nil {
		verr.Add("tags", domain.RuleTagCount, fmt.Sprintf("at most %d tags are allowed", domain.MaxTags))
	}
	for i, tag := range tags {
		if val.v.Var(tag, tagLengthTag) != nil {
			verr.Add(fmt.Sprintf("tags[%d]", i), domain.RuleTagLength,
				fmt.Sprintf("each tag must be at most %d characters", domain.MaxTagLength))
		}
	}
}

func (val *Validator) checkAssignee(verr *domain.ValidationError, assignee string) {
	if val.v.Var(assignee, assigneeTag) != nil {
		verr.Add("assigned_to", domain.RuleLength,
			fmt.Sprintf("assigned_to must be at most %d characters", domain.MaxAssigneeLength))
	}
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
