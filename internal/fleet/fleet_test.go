package fleet

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

type fakeASG struct {
	groups []astypes.AutoScalingGroup
	err    error
	calls  int
}

func (f *fakeASG) DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []astypes.AutoScalingGroup
	for _, g := range f.groups {
		for _, name := range in.AutoScalingGroupNames {
			if aws.ToString(g.AutoScalingGroupName) == name {
				out = append(out, g)
			}
		}
	}
	return &autoscaling.DescribeAutoScalingGroupsOutput{AutoScalingGroups: out}, nil
}

func group(name string, ids ...string) astypes.AutoScalingGroup {
	g := astypes.AutoScalingGroup{AutoScalingGroupName: aws.String(name)}
	for _, id := range ids {
		g.Instances = append(g.Instances, astypes.Instance{InstanceId: aws.String(id)})
	}
	return g
}

func TestRunningInstanceIDs(t *testing.T) {
	f := &fakeASG{groups: []astypes.AutoScalingGroup{group("asg-1", "i-1", "i-2"), group("asg-2", "i-9")}}
	r := NewResolver(f)
	ids, err := r.RunningInstanceIDs(context.Background(), "asg-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"i-1", "i-2"}) {
		t.Fatalf("ids = %v", ids)
	}

	// membership is elastic, so every call goes to the provider
	f.groups[0] = group("asg-1", "i-3")
	ids, err = r.RunningInstanceIDs(context.Background(), "asg-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"i-3"}) || f.calls != 2 {
		t.Fatalf("expected fresh membership, got %v after %d calls", ids, f.calls)
	}
}

func TestRunningInstanceIDsMissingGroup(t *testing.T) {
	r := NewResolver(&fakeASG{})
	_, err := r.RunningInstanceIDs(context.Background(), "asg-404")
	var nf *api.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "asg-404" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	r = NewResolver(&fakeASG{err: errors.New("throttled")})
	_, err = r.RunningInstanceIDs(context.Background(), "asg-1")
	var pe *api.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}
