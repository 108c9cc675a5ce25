package amazon

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/rs/zerolog/log"

	prov "github.com/3cpo-dev/stackroll/internal/providers"
)

// Clients bundles the service clients one deploy run talks to.
type Clients struct {
	CloudFormation *cloudformation.Client
	AutoScaling    *autoscaling.Client
	EC2            *ec2.Client
	ELB            *elasticloadbalancing.Client
	Region         string
}

// New builds the service clients. Static credentials from cfg win over the
// default chain (environment, shared profile, instance role).
func New(ctx context.Context, cfg prov.Config) (*Clients, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, LoadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, prov.ValidationError{Field: "aws.region", Message: "no region in config, profile or AWS_REGION"}
	}
	log.Debug().Str("region", awsCfg.Region).Msg("AWS clients ready")
	return &Clients{
		CloudFormation: cloudformation.NewFromConfig(awsCfg),
		AutoScaling:    autoscaling.NewFromConfig(awsCfg),
		EC2:            ec2.NewFromConfig(awsCfg),
		ELB:            elasticloadbalancing.NewFromConfig(awsCfg),
		Region:         awsCfg.Region,
	}, nil
}

// LoadOptions translates the aws section of the config into SDK options.
func LoadOptions(cfg prov.Config) []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, config.WithRegion(cfg.AWS.Region))
	}
	if cfg.AWS.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, cfg.AWS.SessionToken),
		)))
	}
	return opts
}
