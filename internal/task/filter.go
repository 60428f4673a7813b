package task

import (
	"errors"
	"time"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter selects tasks for tables, aggregates and exports. Zero values mean
// "no restriction".
type Filter struct {
	ProjectGID  string     `json:"project_gid,omitempty"`
	Sections    []string   `json:"sections,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	CreatedFrom *time.Time `json:"created_from,omitempty"`
	CreatedTo   *time.Time `json:"created_to,omitempty"`
	Search      string     `json:"search,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}

func (f *Filter) Validate() error {
	if f.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	if f.Limit > MaxLimit {
		return errors.New("limit must not exceed 1000")
	}
	if f.Offset < 0 {
		return errors.New("offset must not be negative")
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
		return errors.New("created_to must not be before created_from")
	}

	return nil
}

// PageSize returns Limit, or DefaultLimit when unset.
func (f *Filter) PageSize() int {
	if f.Limit == 0 {
		return DefaultLimit
	}

	return f.Limit
}
