package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/types"
)

// Factory function for creating AWS provisioners
func NewAWSProvisionerFactory(ctx context.Context, cfg providers.ProviderConfig) (providers.StackProvisioner, error) {
	return NewProvisioner(ctx, cfg.Region)
}

func init() {
	providers.RegisterProvider("aws", NewAWSProvisionerFactory)
}

// Provisioner implements StackProvisioner using AWS SDK v2
type Provisioner struct {
	iamClient    IAMAPI
	ec2Client    EC2API
	cwLogsClient CWLogsAPI
	r53Client    Route53API
	s3Client     S3API
	region       string
	accountID    string
}

// NewProvisioner creates a new AWS provisioner
func NewProvisioner(ctx context.Context, region string) (*Provisioner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	stsClient := sts.NewFromConfig(cfg)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get caller identity: %w", err)
	}

	return &Provisioner{
		iamClient:    iam.NewFromConfig(cfg),
		ec2Client:    ec2.NewFromConfig(cfg),
		cwLogsClient: cloudwatchlogs.NewFromConfig(cfg),
		r53Client:    route53.NewFromConfig(cfg),
		s3Client:     s3.NewFromConfig(cfg),
		region:       region,
		accountID:    awssdk.ToString(identity.Account),
	}, nil
}

// Name returns the provider name
func (p *Provisioner) Name() string {
	return "aws"
}

// Region returns the AWS region
func (p *Provisioner) Region() string {
	return p.region
}

// AccountID returns the AWS account ID
func (p *Provisioner) AccountID() string {
	return p.accountID
}

// Create provisions one resource of the stack
func (p *Provisioner) Create(ctx context.Context, stack *config.Stack, kind types.Kind, prior providers.Created) (*types.Resource, error) {
	switch kind {
	case types.KindRole:
		return p.createRole(ctx, stack)
	case types.KindPolicyAttachment:
		return p.attachAgentPolicy(ctx, stack)
	case types.KindInstanceProfile:
		return p.createInstanceProfile(ctx, stack)
	case types.KindLogGroup:
		return p.createLogGroup(ctx, stack)
	case types.KindSecurityGroup:
		return p.createSecurityGroup(ctx, stack)
	case types.KindSiteArtifact:
		return p.uploadSiteArtifact(ctx, stack)
	case types.KindInstance:
		return p.runInstance(ctx, stack, prior)
	case types.KindDNSRecord:
		return p.upsertDNSRecord(ctx, stack, prior)
	default:
		return nil, fmt.Errorf("unsupported resource kind: %s", kind)
	}
}

// Delete removes one provisioned resource
func (p *Provisioner) Delete(ctx context.Context, resource *types.Resource) error {
	switch resource.Kind {
	case types.KindRole:
		return p.deleteRole(ctx, resource)
	case types.KindPolicyAttachment:
		return p.detachAgentPolicy(ctx, resource)
	case types.KindInstanceProfile:
		return p.deleteInstanceProfile(ctx, resource)
	case types.KindLogGroup:
		return p.deleteLogGroup(ctx, resource)
	case types.KindSecurityGroup:
		return p.deleteSecurityGroup(ctx, resource)
	case types.KindSiteArtifact:
		return p.deleteSiteArtifact(ctx, resource)
	case types.KindInstance:
		return p.terminateInstance(ctx, resource)
	case types.KindDNSRecord:
		return p.deleteDNSRecord(ctx, resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

// Exists checks whether a recorded resource is still present
func (p *Provisioner) Exists(ctx context.Context, resource *types.Resource) (bool, error) {
	switch resource.Kind {
	case types.KindRole:
		return p.roleExists(ctx, resource)
	case types.KindPolicyAttachment:
		return p.policyAttached(ctx, resource)
	case types.KindInstanceProfile:
		return p.instanceProfileExists(ctx, resource)
	case types.KindLogGroup:
		return p.logGroupExists(ctx, resource)
	case types.KindSecurityGroup:
		return p.securityGroupExists(ctx, resource)
	case types.KindSiteArtifact:
		return p.siteArtifactExists(ctx, resource)
	case types.KindInstance:
		return p.instanceExists(ctx, resource)
	case types.KindDNSRecord:
		return p.dnsRecordExists(ctx, resource)
	default:
		return false, fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

// Status returns the live status of a recorded resource
func (p *Provisioner) Status(ctx context.Context, resource *types.Resource) (string, error) {
	switch resource.Kind {
	case types.KindInstance:
		return p.instanceStatus(ctx, resource)
	case types.KindLogGroup:
		return p.logGroupStatus(ctx, resource)
	default:
		exists, err := p.Exists(ctx, resource)
		if err != nil {
			return "", err
		}
		if exists {
			return "present", nil
		}
		return "missing", nil
	}
}

// stackTags builds the tag set for a stack resource
func stackTags(stack *config.Stack, name string) map[string]string {
	tags := map[string]string{
		"Name":           name,
		"perusta:stack":  stack.Name,
		"perusta:region": stack.Region,
	}
	for k, v := range stack.Tags {
		tags[k] = v
	}
	return tags
}

// Ensure Provisioner implements StackProvisioner
var _ providers.StackProvisioner = (*Provisioner)(nil)
var _ providers.LogTailer = (*Provisioner)(nil)
