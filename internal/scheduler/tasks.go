package scheduler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stancsz/agentcore/internal/tenant"
)

// ScheduledTask is one entry from the tasks file. Company selects the tenant
// whose context and memory the run operates on; empty means the default.
type ScheduledTask struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Cron        string `yaml:"cron"`
	Prompt      string `yaml:"prompt"`
	Company     string `yaml:"company"`
	AutoApprove bool   `yaml:"auto_approve"`
}

type taskFile struct {
	Tasks []ScheduledTask `yaml:"tasks"`
}

// LoadTasks reads and validates the tasks file. A missing file is not an
// error: the daemon runs with an empty schedule until one appears.
func LoadTasks(path string) ([]ScheduledTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tasks file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Tasks))
	for i, task := range file.Tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("task %d: id is required", i)
		}
		if seen[task.ID] {
			return nil, fmt.Errorf("task %q: duplicate id", task.ID)
		}
		seen[task.ID] = true
		if task.Cron == "" {
			return nil, fmt.Errorf("task %q: cron is required", task.ID)
		}
		if _, err := cronParser.Parse(task.Cron); err != nil {
			return nil, fmt.Errorf("task %q: invalid cron %q: %w", task.ID, task.Cron, err)
		}
		if task.Prompt == "" {
			return nil, fmt.Errorf("task %q: prompt is required", task.ID)
		}
		if task.Company != "" {
			if err := tenant.ValidateID(task.Company); err != nil {
				return nil, fmt.Errorf("task %q: %w", task.ID, err)
			}
		}
	}
	return file.Tasks, nil
}
