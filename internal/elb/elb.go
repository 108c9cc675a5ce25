package elb

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"
	"github.com/aws/smithy-go"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

// API is the subset of the classic load balancer client the inspector needs.
type API interface {
	DescribeLoadBalancers(ctx context.Context, in *elasticloadbalancing.DescribeLoadBalancersInput, optFns ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeLoadBalancersOutput, error)
	DescribeInstanceHealth(ctx context.Context, in *elasticloadbalancing.DescribeInstanceHealthInput, optFns ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeInstanceHealthOutput, error)
	DescribeLoadBalancerAttributes(ctx context.Context, in *elasticloadbalancing.DescribeLoadBalancerAttributesInput, optFns ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeLoadBalancerAttributesOutput, error)
}

// Inspector reads the state of the load balancer in front of the fleet.
type Inspector struct {
	api API
}

func NewInspector(client API) *Inspector { return &Inspector{api: client} }

// Describe returns the balancer's DNS name, per-instance health and attributes.
func (i *Inspector) Describe(ctx context.Context, name string) (api.LoadBalancerInfo, error) {
	info := api.LoadBalancerInfo{Name: name, Attributes: map[string]string{}}

	lbs, err := i.api.DescribeLoadBalancers(ctx, &elasticloadbalancing.DescribeLoadBalancersInput{
		LoadBalancerNames: []string{name},
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "LoadBalancerNotFound" {
			return info, &api.NotFoundError{Kind: "load balancer", ID: name}
		}
		return info, &api.ProviderError{Op: "DescribeLoadBalancers", Err: err}
	}
	found := false
	for _, lb := range lbs.LoadBalancerDescriptions {
		if aws.ToString(lb.LoadBalancerName) == name {
			info.DNSName = aws.ToString(lb.DNSName)
			found = true
			break
		}
	}
	if !found {
		return info, &api.NotFoundError{Kind: "load balancer", ID: name}
	}

	health, err := i.api.DescribeInstanceHealth(ctx, &elasticloadbalancing.DescribeInstanceHealthInput{
		LoadBalancerName: aws.String(name),
	})
	if err != nil {
		return info, &api.ProviderError{Op: "DescribeInstanceHealth", Err: err}
	}
	for _, s := range health.InstanceStates {
		info.Instances = append(info.Instances, api.InstanceHealth{
			InstanceID:  aws.ToString(s.InstanceId),
			State:       aws.ToString(s.State),
			Description: aws.ToString(s.Description),
		})
	}

	attrs, err := i.api.DescribeLoadBalancerAttributes(ctx, &elasticloadbalancing.DescribeLoadBalancerAttributesInput{
		LoadBalancerName: aws.String(name),
	})
	if err != nil {
		return info, &api.ProviderError{Op: "DescribeLoadBalancerAttributes", Err: err}
	}
	flatten(attrs.LoadBalancerAttributes, info.Attributes)
	return info, nil
}

func flatten(a *elbtypes.LoadBalancerAttributes, out map[string]string) {
	if a == nil {
		return
	}
	if a.CrossZoneLoadBalancing != nil {
		out["cross_zone_load_balancing"] = deref(a.CrossZoneLoadBalancing.Enabled)
	}
	if a.ConnectionDraining != nil {
		out["connection_draining"] = deref(a.ConnectionDraining.Enabled)
		out["connection_draining_timeout"] = deref(a.ConnectionDraining.Timeout)
	}
	if a.ConnectionSettings != nil {
		out["idle_timeout"] = deref(a.ConnectionSettings.IdleTimeout)
	}
	if a.AccessLog != nil {
		out["access_log"] = deref(a.AccessLog.Enabled)
	}
	for _, kv := range a.AdditionalAttributes {
		out[aws.ToString(kv.Key)] = aws.ToString(kv.Value)
	}
}

// deref prints scalar SDK fields whether or not the SDK models them as pointers.
func deref(v interface{}) string {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	return fmt.Sprint(rv.Interface())
}
