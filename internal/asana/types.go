package asana

import (
	"time"

	"github.com/nadmax/taskboard/internal/task"
)

const (
	StorySectionChanged   = "section_changed"
	StoryMarkedComplete   = "marked_complete"
	StoryMarkedIncomplete = "marked_incomplete"
)

const (
	dueOnLayout = "2006-01-02"
	noSection   = ""
)

type (
	Ref struct {
		GID  string `json:"gid"`
		Name string `json:"name"`
	}
	Membership struct {
		Project *Ref `json:"project"`
		Section *Ref `json:"section"`
	}
	Task struct {
		GID          string       `json:"gid"`
		Name         string       `json:"name"`
		Completed    bool         `json:"completed"`
		CompletedAt  *time.Time   `json:"completed_at"`
		CreatedAt    time.Time    `json:"created_at"`
		ModifiedAt   time.Time    `json:"modified_at"`
		DueOn        string       `json:"due_on"`
		PermalinkURL string       `json:"permalink_url"`
		Assignee     *Ref         `json:"assignee"`
		Memberships  []Membership `json:"memberships"`
	}
	Story struct {
		GID             string    `json:"gid"`
		CreatedAt       time.Time `json:"created_at"`
		ResourceSubtype string    `json:"resource_subtype"`
		Text            string    `json:"text"`
		NewSection      *Ref      `json:"new_section"`
		OldSection      *Ref      `json:"old_section"`
	}
)

// SectionIn returns the name of the task's section in the given project.
func (t Task) SectionIn(projectGID string) string {
	for _, m := range t.Memberships {
		if m.Project == nil || m.Project.GID != projectGID {
			continue
		}
		if m.Section != nil {
			return m.Section.Name
		}
	}

	return noSection
}

// ToTask maps an Asana task into the stored model. Section names are kept
// verbatim.
func (t Task) ToTask(projectGID string, syncedAt time.Time) *task.Task {
	out := &task.Task{
		GID:          t.GID,
		Name:         t.Name,
		ProjectGID:   projectGID,
		Section:      t.SectionIn(projectGID),
		Completed:    t.Completed,
		CreatedAt:    t.CreatedAt,
		CompletedAt:  t.CompletedAt,
		ModifiedAt:   t.ModifiedAt,
		PermalinkURL: t.PermalinkURL,
		SyncedAt:     syncedAt,
	}
	if t.Assignee != nil {
		out.Assignee = t.Assignee.Name
	}
	if t.DueOn != "" {
		if due, err := time.Parse(dueOnLayout, t.DueOn); err == nil {
			out.DueOn = &due
		}
	}

	return out
}

// StatusChanges turns a task's stories into status observations. A section
// move records the new section; marking complete records task.CompletedStatus
// and marking incomplete restores the last known section. The section the task
// started in is recorded at its creation time ahead of the first observation,
// so time spent there is not lost.
func StatusChanges(t Task, projectGID string, stories []Story) []task.StatusChange {
	var changes []task.StatusChange
	current := initialSection(t, projectGID, stories)

	observe := func(status string, at time.Time) {
		if len(changes) == 0 && current != noSection && at.After(t.CreatedAt) {
			changes = append(changes, task.NewStatusChange(t.GID, current, t.CreatedAt, task.SourceStory))
		}
		changes = append(changes, task.NewStatusChange(t.GID, status, at, task.SourceStory))
	}

	for _, s := range stories {
		switch s.ResourceSubtype {
		case StorySectionChanged:
			if s.NewSection == nil {
				continue
			}
			observe(s.NewSection.Name, s.CreatedAt)
			current = s.NewSection.Name
		case StoryMarkedComplete:
			observe(task.CompletedStatus, s.CreatedAt)
		case StoryMarkedIncomplete:
			if current == noSection {
				continue
			}
			observe(current, s.CreatedAt)
		}
	}

	return changes
}

// initialSection is the old section of the first section move or, when the
// task never moved, the section it is in now.
func initialSection(t Task, projectGID string, stories []Story) string {
	for _, s := range stories {
		if s.ResourceSubtype != StorySectionChanged || s.NewSection == nil {
			continue
		}
		if s.OldSection == nil {
			return noSection
		}
		return s.OldSection.Name
	}

	return t.SectionIn(projectGID)
}
