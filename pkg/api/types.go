package api

// v0 contains the public types returned by the deployer.

// Instance is a running fleet member that accepts SSH sessions.
type Instance struct {
	ID      string `json:"id" yaml:"id"`
	State   string `json:"state" yaml:"state"`
	Address string `json:"address" yaml:"address"`
}

// CommandResult is the outcome of one remote command on one instance.
type CommandResult struct {
	Command    string `json:"command"`
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// Success reports whether the command exited zero.
func (r CommandResult) Success() bool { return r.ExitStatus == 0 }

// ExecResult is the per-instance outcome of a diagnostic fleet command.
// Err is set when no command result could be obtained at all.
type ExecResult struct {
	InstanceID string `json:"instance_id"`
	Address    string `json:"address"`
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Err        error  `json:"-"`
}

// FetchResult is the per-instance outcome of a file download.
type FetchResult struct {
	InstanceID string `json:"instance_id"`
	LocalPath  string `json:"local_path"`
	Err        error  `json:"-"`
}

// StackSummary is a read-only view of the deployed stack.
type StackSummary struct {
	Name               string            `json:"name"`
	Status             string            `json:"status"`
	Parameters         map[string]string `json:"parameters"`
	AutoscalingGroupID string            `json:"autoscaling_group_id,omitempty"`
}

// LoadBalancerInfo describes the classic load balancer in front of the fleet.
type LoadBalancerInfo struct {
	Name       string            `json:"name"`
	DNSName    string            `json:"dns_name"`
	Instances  []InstanceHealth  `json:"instances"`
	Attributes map[string]string `json:"attributes"`
}

// InstanceHealth is the load balancer's view of one registered instance.
type InstanceHealth struct {
	InstanceID  string `json:"instance_id"`
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)
