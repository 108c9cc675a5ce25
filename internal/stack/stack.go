package stack

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

// AutoScalingGroupType is the resource type of the stack's fleet.
const AutoScalingGroupType = "AWS::AutoScaling::AutoScalingGroup"

// API is the subset of the CloudFormation client the controller needs.
type API interface {
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DescribeStackResources(ctx context.Context, in *cloudformation.DescribeStackResourcesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackResourcesOutput, error)
	UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
}

// Status is a stack lifecycle state such as UPDATE_COMPLETE.
type Status string

// Stable reports whether the stack has settled and may be updated.
func (s Status) Stable() bool { return strings.HasSuffix(string(s), "COMPLETE") }

// Resources maps a resource type to the physical id of its first resource.
type Resources map[string]string

// Lookup returns the physical id for a resource type.
func (r Resources) Lookup(resourceType string) (string, bool) {
	id, ok := r[resourceType]
	return id, ok && id != ""
}

// Controller reads and mutates one stack. Describe results are cached for
// the lifetime of the value, so build a fresh Controller per operation.
type Controller struct {
	api          API
	name         string
	templateBody string

	stack     *cfntypes.Stack
	resources Resources
}

// NewController creates a controller for the named stack. templateBody is
// submitted with every update.
func NewController(client API, name, templateBody string) *Controller {
	return &Controller{api: client, name: name, templateBody: templateBody}
}

// Name returns the stack name.
func (c *Controller) Name() string { return c.name }

// CurrentStatus returns the stack's lifecycle state.
func (c *Controller) CurrentStatus(ctx context.Context) (Status, error) {
	st, err := c.describe(ctx)
	if err != nil {
		return "", err
	}
	return Status(st.StackStatus), nil
}

// CurrentParameters returns the stack's parameters as a map.
func (c *Controller) CurrentParameters(ctx context.Context) (map[string]string, error) {
	st, err := c.describe(ctx)
	if err != nil {
		return nil, err
	}
	params := make(map[string]string, len(st.Parameters))
	for _, p := range st.Parameters {
		params[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	return params, nil
}

// AutoscalingGroupID returns the physical id of the stack's autoscaling
// group. found is false when the stack has no such resource.
func (c *Controller) AutoscalingGroupID(ctx context.Context) (id string, found bool, err error) {
	res, err := c.Resources(ctx)
	if err != nil {
		return "", false, err
	}
	id, found = res.Lookup(AutoScalingGroupType)
	return id, found, nil
}

// Resources returns the stack's resources keyed by type. When a type occurs
// more than once the first listed resource wins.
func (c *Controller) Resources(ctx context.Context) (Resources, error) {
	if c.resources != nil {
		return c.resources, nil
	}
	out, err := c.api.DescribeStackResources(ctx, &cloudformation.DescribeStackResourcesInput{
		StackName: aws.String(c.name),
	})
	if err != nil {
		return nil, c.classify("DescribeStackResources", err)
	}
	res := Resources{}
	for _, r := range out.StackResources {
		t := aws.ToString(r.ResourceType)
		if _, seen := res[t]; seen {
			continue
		}
		res[t] = aws.ToString(r.PhysicalResourceId)
	}
	c.resources = res
	return res, nil
}

// UpdateParameters merges updates over the current parameters and submits
// them with the template. It returns once the provider accepts the request;
// the rollout itself continues asynchronously.
func (c *Controller) UpdateParameters(ctx context.Context, updates map[string]string) error {
	current, err := c.CurrentParameters(ctx)
	if err != nil {
		return err
	}
	merged := Merge(current, updates)
	_, err = c.api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(c.name),
		TemplateBody: aws.String(c.templateBody),
		Parameters:   toParameters(merged),
		Capabilities: []cfntypes.Capability{cfntypes.CapabilityCapabilityIam},
	})
	if err != nil {
		return c.classify("UpdateStack", err)
	}
	c.stack = nil
	c.resources = nil
	return nil
}

// Merge returns base overlaid with updates. Neither input is modified.
func Merge(base, updates map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}

func (c *Controller) describe(ctx context.Context) (*cfntypes.Stack, error) {
	if c.stack != nil {
		return c.stack, nil
	}
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(c.name),
	})
	if err != nil {
		return nil, c.classify("DescribeStacks", err)
	}
	for i := range out.Stacks {
		if aws.ToString(out.Stacks[i].StackName) == c.name {
			c.stack = &out.Stacks[i]
			return c.stack, nil
		}
	}
	return nil, &api.NotFoundError{Kind: "stack", ID: c.name}
}

// classify turns CloudFormation's "does not exist" validation error into a
// NotFoundError; everything else is a ProviderError.
func (c *Controller) classify(op string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) && ae.ErrorCode() == "ValidationError" && strings.Contains(ae.ErrorMessage(), "does not exist") {
		return &api.NotFoundError{Kind: "stack", ID: c.name}
	}
	return &api.ProviderError{Op: op, Err: err}
}

func toParameters(params map[string]string) []cfntypes.Parameter {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cfntypes.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, cfntypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(params[k]),
		})
	}
	return out
}
