package elb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

type fakeELB struct {
	names []string
	err   error
}

func (f *fakeELB) DescribeLoadBalancers(ctx context.Context, in *elasticloadbalancing.DescribeLoadBalancersInput, _ ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeLoadBalancersOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &elasticloadbalancing.DescribeLoadBalancersOutput{}
	for _, n := range f.names {
		out.LoadBalancerDescriptions = append(out.LoadBalancerDescriptions, elbtypes.LoadBalancerDescription{
			LoadBalancerName: aws.String(n),
			DNSName:          aws.String(n + ".elb.amazonaws.com"),
		})
	}
	return out, nil
}

func (f *fakeELB) DescribeInstanceHealth(ctx context.Context, in *elasticloadbalancing.DescribeInstanceHealthInput, _ ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeInstanceHealthOutput, error) {
	return &elasticloadbalancing.DescribeInstanceHealthOutput{InstanceStates: []elbtypes.InstanceState{
		{InstanceId: aws.String("i-1"), State: aws.String("InService")},
		{InstanceId: aws.String("i-2"), State: aws.String("OutOfService"), Description: aws.String("Instance has failed at least the UnhealthyThreshold number of health checks consecutively.")},
	}}, nil
}

func (f *fakeELB) DescribeLoadBalancerAttributes(ctx context.Context, in *elasticloadbalancing.DescribeLoadBalancerAttributesInput, _ ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeLoadBalancerAttributesOutput, error) {
	return &elasticloadbalancing.DescribeLoadBalancerAttributesOutput{LoadBalancerAttributes: &elbtypes.LoadBalancerAttributes{
		AdditionalAttributes: []elbtypes.AdditionalAttribute{{Key: aws.String("elb.http.desyncmitigationmode"), Value: aws.String("defensive")}},
	}}, nil
}

func TestDescribe(t *testing.T) {
	i := NewInspector(&fakeELB{names: []string{"pdfcombiner"}})
	info, err := i.Describe(context.Background(), "pdfcombiner")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if info.DNSName != "pdfcombiner.elb.amazonaws.com" {
		t.Fatalf("dns = %s", info.DNSName)
	}
	if len(info.Instances) != 2 || info.Instances[1].State != "OutOfService" {
		t.Fatalf("instances = %+v", info.Instances)
	}
	if info.Attributes["elb.http.desyncmitigationmode"] != "defensive" {
		t.Fatalf("attributes = %v", info.Attributes)
	}
}

func TestDescribeMissing(t *testing.T) {
	_, err := NewInspector(&fakeELB{}).Describe(context.Background(), "pdfcombiner")
	var nf *api.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	_, err = NewInspector(&fakeELB{err: errors.New("denied")}).Describe(context.Background(), "pdfcombiner")
	var pe *api.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestDeref(t *testing.T) {
	n := int32(300)
	var nilPtr *bool
	if deref(&n) != "300" || deref(true) != "true" || deref(nilPtr) != "" {
		t.Fatalf("deref mismatch")
	}
}
