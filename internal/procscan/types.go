package procscan

import "time"

// Snapshot lists the processes holding RDMA verbs devices of one interface.
type Snapshot struct {
	Interface string    `json:"interface"`
	Timestamp time.Time `json:"ts"`
	Processes []Process `json:"processes"`
}

// Process summarises a process with open uverbs file descriptors.
type Process struct {
	PID     int      `json:"pid"`
	UID     int      `json:"uid"`
	User    string   `json:"user"`
	Name    string   `json:"name"`
	Command string   `json:"cmd"`
	Devices []string `json:"devices"`
	FDs     int      `json:"fds"`
}
