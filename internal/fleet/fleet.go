package fleet

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

// API is the subset of the autoscaling client the resolver needs.
type API interface {
	DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
}

// Resolver looks up autoscaling group membership. It never caches.
type Resolver struct {
	api API
}

func NewResolver(client API) *Resolver { return &Resolver{api: client} }

// RunningInstanceIDs returns the ids of the group's current members. Members
// are not filtered by run state here; the executor does that against EC2.
func (r *Resolver) RunningInstanceIDs(ctx context.Context, groupID string) ([]string, error) {
	out, err := r.api.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{groupID},
	})
	if err != nil {
		return nil, &api.ProviderError{Op: "DescribeAutoScalingGroups", Err: err}
	}
	for _, g := range out.AutoScalingGroups {
		if aws.ToString(g.AutoScalingGroupName) != groupID {
			continue
		}
		ids := make([]string, 0, len(g.Instances))
		for _, inst := range g.Instances {
			ids = append(ids, aws.ToString(inst.InstanceId))
		}
		return ids, nil
	}
	return nil, &api.NotFoundError{Kind: "autoscaling group", ID: groupID}
}
