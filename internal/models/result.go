package models

import "time"

type RunResult struct {
	Target        string    `yaml:"target"`
	Name          string    `yaml:"name"`
	ID            int       `yaml:"id"`
	ForwardedPort int       `yaml:"port,omitempty"`
	Cores         int       `yaml:"cores"`
	MemoryMB      int       `yaml:"memory_mb"`
	DiskGB        int       `yaml:"disk_gb"`
	User          string    `yaml:"user"`
	LogPath       string    `yaml:"log"`
	CompletedAt   time.Time `yaml:"completed_at"`
}
