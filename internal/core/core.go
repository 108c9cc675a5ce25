package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/stackroll/internal/elb"
	"github.com/3cpo-dev/stackroll/internal/fleet"
	"github.com/3cpo-dev/stackroll/internal/remote"
	"github.com/3cpo-dev/stackroll/internal/stack"
	"github.com/3cpo-dev/stackroll/internal/telemetry"
	"github.com/3cpo-dev/stackroll/pkg/api"
)

// DeployStringKey is the stack parameter holding the deploy marker.
const DeployStringKey = "DeployString"

// Recorder persists operation outcomes.
type Recorder interface {
	Record(ctx context.Context, r Run) error
}

// Options carries the validated settings an Orchestrator runs with.
type Options struct {
	StackName      string
	TemplateBody   string
	Region         string
	LoadBalancer   string
	Operator       string
	DeployCommands []string
	Now            func() time.Time
}

// Deps are the collaborators behind an Orchestrator.
type Deps struct {
	Stacks        stack.API
	Groups        fleet.API
	Instances     remote.InstanceAPI
	Dialer        remote.Dialer
	LoadBalancers elb.API
	History       Recorder
	Metrics       *telemetry.Collector
}

// Orchestrator is the entrypoint for deploying to the stack's fleet.
// Operations are not safe to run concurrently against the same stack.
type Orchestrator struct {
	opts    Options
	stacks  stack.API
	fleet   *fleet.Resolver
	exec    *remote.Executor
	lbs     elb.API
	history Recorder
	metrics *telemetry.Collector
}

func NewOrchestrator(opts Options, deps Deps) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		opts:    opts,
		stacks:  deps.Stacks,
		fleet:   fleet.NewResolver(deps.Groups),
		exec:    remote.NewExecutor(deps.Instances, deps.Dialer),
		lbs:     deps.LoadBalancers,
		history: deps.History,
		metrics: deps.Metrics,
	}
}

// DefaultDeployCommands re-runs cfn-init so the instance pulls the current
// binary and config, restarts the service, then probes its health endpoint.
func DefaultDeployCommands(stackName, launchResource, service, healthURL string) []string {
	return []string{
		fmt.Sprintf("sudo cfn-init -v -s %s -r %s -c ALL", stackName, launchResource),
		fmt.Sprintf("sudo service %s restart", service),
		fmt.Sprintf("sleep 1 && curl -fsS %s", healthURL),
	}
}

// controller returns a stack controller whose cached reads live only as
// long as the calling operation.
func (o *Orchestrator) controller() *stack.Controller {
	return stack.NewController(o.stacks, o.opts.StackName, o.opts.TemplateBody)
}

// UpdateStack submits params plus a fresh deploy marker, provided the stack
// is in a stable state. Without other changes the marker alone does nothing
// until instances are replaced or cfn-init runs on them.
func (o *Orchestrator) UpdateStack(ctx context.Context, params map[string]string) error {
	return o.track(ctx, "update", FormatParams(params), func() error {
		return o.updateStack(ctx, o.controller(), params)
	})
}

func (o *Orchestrator) updateStack(ctx context.Context, ctl *stack.Controller, params map[string]string) error {
	status, err := ctl.CurrentStatus(ctx)
	if err != nil {
		return err
	}
	if !status.Stable() {
		log.Error().Str("status", string(status)).Msg("Can't update stack while it is in progress")
		log.Error().Msg(o.ProgressMessage())
		return &api.NotSafeToUpdateError{Status: string(status), Hint: o.ProgressMessage()}
	}
	newParams := stack.Merge(o.DeployMarker(), params)
	if err := ctl.UpdateParameters(ctx, newParams); err != nil {
		return err
	}
	log.Info().Str("stack", ctl.Name()).Str("params", FormatParams(newParams)).Msg("Updated stack")
	return nil
}

// DeployMarker records who deployed and when.
func (o *Orchestrator) DeployMarker() map[string]string {
	return map[string]string{
		DeployStringKey: fmt.Sprintf("Deployed by %s at %s", o.opts.Operator, o.opts.Now().Format(time.RFC3339)),
	}
}

// RedeployCurrentBinary runs the deploy commands on every running fleet
// member, one instance at a time, stopping at the first failure.
func (o *Orchestrator) RedeployCurrentBinary(ctx context.Context) error {
	return o.track(ctx, "redeploy", "", func() error {
		instances, err := o.instances(ctx, o.controller())
		if err != nil {
			return err
		}
		if err := o.exec.RunSequence(ctx, instances, o.opts.DeployCommands); err != nil {
			return err
		}
		o.metrics.Counter("stackroll_remote_commands", float64(len(instances)*len(o.opts.DeployCommands)), map[string]string{"operation": "redeploy"})
		log.Info().Str("targets", remote.FriendlyNames(instances)).Msg("Redeployed and restarted service")
		return nil
	})
}

// RunOnFleet runs command on every running fleet member and returns each
// instance's outcome. Per-instance failures are reported in the results.
func (o *Orchestrator) RunOnFleet(ctx context.Context, command string) ([]api.ExecResult, error) {
	var results []api.ExecResult
	err := o.track(ctx, "exec", command, func() error {
		instances, err := o.instances(ctx, o.controller())
		if err != nil {
			return err
		}
		results, err = o.exec.RunOnEach(ctx, instances, command)
		o.metrics.Counter("stackroll_remote_commands", float64(len(instances)), map[string]string{"operation": "exec"})
		return err
	})
	return results, err
}

// FetchFromFleet downloads remotePath from every running fleet member.
func (o *Orchestrator) FetchFromFleet(ctx context.Context, remotePath, localDir string) ([]api.FetchResult, error) {
	var results []api.FetchResult
	err := o.track(ctx, "fetch", remotePath, func() error {
		instances, err := o.instances(ctx, o.controller())
		if err != nil {
			return err
		}
		results = o.exec.FetchEach(ctx, instances, remotePath, localDir)
		return nil
	})
	return results, err
}

// ResizeFleet changes the fleet's instance type. The provider replaces
// instances on its own schedule; this returns once the update is accepted.
func (o *Orchestrator) ResizeFleet(ctx context.Context, instanceType string) error {
	if strings.TrimSpace(instanceType) == "" {
		return errors.New("instance type required")
	}
	return o.track(ctx, "resize", instanceType, func() error {
		if err := o.updateStack(ctx, o.controller(), map[string]string{"InstanceType": instanceType}); err != nil {
			return err
		}
		log.Info().Str("instance_type", instanceType).Msg("Finished setting new size. Rolling restart in progress")
		log.Info().Msg(o.ProgressMessage())
		return nil
	})
}

// Describe returns the stack's status, parameters and autoscaling group.
func (o *Orchestrator) Describe(ctx context.Context) (api.StackSummary, error) {
	ctl := o.controller()
	sum := api.StackSummary{Name: o.opts.StackName}
	status, err := ctl.CurrentStatus(ctx)
	if err != nil {
		return sum, err
	}
	sum.Status = string(status)
	if sum.Parameters, err = ctl.CurrentParameters(ctx); err != nil {
		return sum, err
	}
	id, found, err := ctl.AutoscalingGroupID(ctx)
	if err != nil {
		return sum, err
	}
	if found {
		sum.AutoscalingGroupID = id
	}
	return sum, nil
}

// LoadBalancer describes the configured load balancer.
func (o *Orchestrator) LoadBalancer(ctx context.Context) (api.LoadBalancerInfo, error) {
	if o.opts.LoadBalancer == "" {
		return api.LoadBalancerInfo{}, errors.New("no load balancer configured (stack.load_balancer)")
	}
	return elb.NewInspector(o.lbs).Describe(ctx, o.opts.LoadBalancer)
}

// ProgressMessage points the operator at the stack's event log.
func (o *Orchestrator) ProgressMessage() string {
	return fmt.Sprintf("Check https://console.aws.amazon.com/cloudformation/home?region=%s#/stacks?filteringText=%s to monitor progress",
		o.opts.Region, o.opts.StackName)
}

func (o *Orchestrator) instances(ctx context.Context, ctl *stack.Controller) ([]api.Instance, error) {
	groupID, found, err := ctl.AutoscalingGroupID(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &api.NotFoundError{Kind: "autoscaling group in stack", ID: ctl.Name()}
	}
	ids, err := o.fleet.RunningInstanceIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return o.exec.Resolve(ctx, ids)
}

// track times fn and records its outcome in metrics and history.
func (o *Orchestrator) track(ctx context.Context, op, detail string, fn func() error) error {
	start := o.opts.Now()
	err := fn()
	finished := o.opts.Now()

	labels := map[string]string{"operation": op}
	o.metrics.Timer("stackroll_operation_duration", finished.Sub(start), labels)
	run := Run{
		Operation:  op,
		Operator:   o.opts.Operator,
		Stack:      o.opts.StackName,
		Detail:     detail,
		Status:     api.RunSucceeded,
		StartedAt:  start,
		FinishedAt: finished,
	}
	if err != nil {
		o.metrics.Counter("stackroll_operation_errors", 1, labels)
		run.Status = api.RunFailed
		run.Error = err.Error()
	}
	if o.history != nil {
		if herr := o.history.Record(ctx, run); herr != nil {
			log.Warn().Err(herr).Str("operation", op).Msg("Could not record history")
		}
	}
	return err
}

// FormatParams renders params as sorted k=v pairs.
func FormatParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, " ")
}
