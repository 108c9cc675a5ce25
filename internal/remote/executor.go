package remote

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

// InstanceAPI is the subset of the EC2 client the executor needs.
type InstanceAPI interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Session runs commands on one instance over a single connection.
type Session interface {
	Run(ctx context.Context, command string) (api.CommandResult, error)
	Close() error
}

// Puller is implemented by sessions that can download files.
type Puller interface {
	Pull(ctx context.Context, remotePath, localPath string) error
}

// Dialer opens authenticated sessions to instances.
type Dialer interface {
	Open(ctx context.Context, inst api.Instance) (Session, error)
}

// Executor resolves instances and runs commands on them one at a time.
type Executor struct {
	api    InstanceAPI
	dialer Dialer
}

func NewExecutor(client InstanceAPI, dialer Dialer) *Executor {
	return &Executor{api: client, dialer: dialer}
}

// Resolve returns the instances that are both in ids and running, in the
// order EC2 lists them.
func (e *Executor) Resolve(ctx context.Context, ids []string) ([]api.Instance, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var running []api.Instance
	pages := ec2.NewDescribeInstancesPaginator(e.api, &ec2.DescribeInstancesInput{})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, &api.ProviderError{Op: "DescribeInstances", Err: err}
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				id := aws.ToString(inst.InstanceId)
				if !wanted[id] || inst.State == nil || inst.State.Name != ec2types.InstanceStateNameRunning {
					continue
				}
				running = append(running, api.Instance{
					ID:      id,
					State:   string(inst.State.Name),
					Address: address(inst),
				})
			}
		}
	}
	if len(running) == 0 {
		return nil, &api.NoRunningInstancesError{Tried: ids}
	}
	return running, nil
}

func address(inst ec2types.Instance) string {
	for _, a := range []*string{inst.PublicDnsName, inst.PublicIpAddress, inst.PrivateIpAddress} {
		if s := aws.ToString(a); s != "" {
			return s
		}
	}
	return ""
}

// RunSequence runs commands in order on each instance in turn. The first
// non-zero exit stops everything and is returned as a RemoteCommandError;
// instances already processed keep their new state.
func (e *Executor) RunSequence(ctx context.Context, instances []api.Instance, commands []string) error {
	log.Info().Str("targets", FriendlyNames(instances)).Msg("About to deploy")
	return each(instances, func(inst api.Instance) error {
		return e.runAll(ctx, inst, commands)
	})
}

func (e *Executor) runAll(ctx context.Context, inst api.Instance, commands []string) error {
	s, err := e.dialer.Open(ctx, inst)
	if err != nil {
		return fmt.Errorf("open session on %s: %w", inst.ID, err)
	}
	defer s.Close()
	return each(commands, func(command string) error {
		res, err := s.Run(ctx, command)
		if err != nil {
			return fmt.Errorf("%s: %w", inst.ID, err)
		}
		if !res.Success() {
			log.Error().
				Str("instance", inst.ID).
				Str("command", command).
				Int("exit", res.ExitStatus).
				Str("stdout", res.Stdout).
				Str("stderr", res.Stderr).
				Msg("redeploy failed")
			return &api.RemoteCommandError{
				InstanceID: inst.ID,
				Address:    inst.Address,
				Command:    command,
				ExitStatus: res.ExitStatus,
				Stdout:     res.Stdout,
				Stderr:     res.Stderr,
			}
		}
		log.Debug().Str("instance", inst.ID).Str("command", command).Msg("ok")
		return nil
	})
}

// each applies fn to items in order and stops at the first error.
func each[T any](items []T, fn func(T) error) error {
	for _, it := range items {
		if err := fn(it); err != nil {
			return err
		}
	}
	return nil
}

// RunOnEach runs command on every instance and collects one result per
// instance. Non-zero exits and connection failures are recorded, not returned.
func (e *Executor) RunOnEach(ctx context.Context, instances []api.Instance, command string) ([]api.ExecResult, error) {
	results := make([]api.ExecResult, 0, len(instances))
	for _, inst := range instances {
		results = append(results, e.runOne(ctx, inst, command))
	}
	return results, nil
}

func (e *Executor) runOne(ctx context.Context, inst api.Instance, command string) api.ExecResult {
	out := api.ExecResult{InstanceID: inst.ID, Address: inst.Address}
	s, err := e.dialer.Open(ctx, inst)
	if err != nil {
		out.Err = err
		return out
	}
	defer s.Close()
	res, err := s.Run(ctx, command)
	if err != nil {
		out.Err = err
		return out
	}
	out.ExitStatus = res.ExitStatus
	out.Stdout = res.Stdout
	out.Stderr = res.Stderr
	return out
}

// FetchEach downloads remotePath from every instance into
// localDir/<instance-id>/. Failures are recorded per instance.
func (e *Executor) FetchEach(ctx context.Context, instances []api.Instance, remotePath, localDir string) []api.FetchResult {
	results := make([]api.FetchResult, 0, len(instances))
	for _, inst := range instances {
		res := api.FetchResult{
			InstanceID: inst.ID,
			LocalPath:  filepath.Join(localDir, inst.ID, filepath.Base(remotePath)),
		}
		res.Err = e.fetchOne(ctx, inst, remotePath, res.LocalPath)
		results = append(results, res)
	}
	return results
}

func (e *Executor) fetchOne(ctx context.Context, inst api.Instance, remotePath, localPath string) error {
	s, err := e.dialer.Open(ctx, inst)
	if err != nil {
		return err
	}
	defer s.Close()
	p, ok := s.(Puller)
	if !ok {
		return fmt.Errorf("session for %s cannot transfer files", inst.ID)
	}
	return p.Pull(ctx, remotePath, localPath)
}

// FriendlyNames renders instances as "id(address), ...".
func FriendlyNames(instances []api.Instance) string {
	names := make([]string, 0, len(instances))
	for _, inst := range instances {
		names = append(names, fmt.Sprintf("%s(%s)", inst.ID, inst.Address))
	}
	return strings.Join(names, ", ")
}
