package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/types"
)

// createRole ensures the stack's instance role exists
func (p *Provisioner) createRole(ctx context.Context, stack *config.Stack) (*types.Resource, error) {
	roleName := stack.ResourceName("role")

	existing, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: awssdk.String(roleName)})
	if err == nil {
		return p.roleResource(stack, roleName, awssdk.ToString(existing.Role.Arn)), nil
	}
	var notFound *iamtypes.NoSuchEntityException
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("failed to check role %s: %w", roleName, err)
	}

	output, err := p.iamClient.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 awssdk.String(roleName),
		AssumeRolePolicyDocument: awssdk.String(EC2AssumeRolePolicy),
		Description:              awssdk.String(fmt.Sprintf("Instance role for stack %s", stack.Name)),
		Tags:                     convertIAMTags(stackTags(stack, roleName)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create role %s: %w", roleName, err)
	}

	return p.roleResource(stack, roleName, awssdk.ToString(output.Role.Arn)), nil
}

func (p *Provisioner) roleResource(stack *config.Stack, roleName, arn string) *types.Resource {
	return &types.Resource{
		Kind:      types.KindRole,
		ID:        arn,
		Name:      roleName,
		Stack:     stack.Name,
		Region:    "global", // IAM is global
		AccountID: p.accountID,
		Status:    "active",
		Tags:      stackTags(stack, roleName),
		CreatedAt: time.Now(),
		Metadata: map[string]string{
			MetaRoleName: roleName,
			MetaRoleArn:  arn,
		},
	}
}

// deleteRole removes the stack's instance role
func (p *Provisioner) deleteRole(ctx context.Context, resource *types.Resource) error {
	_, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{
		RoleName: awssdk.String(resource.Metadata[MetaRoleName]),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete role %s: %w", resource.Name, err)
	}
	return nil
}

func (p *Provisioner) roleExists(ctx context.Context, resource *types.Resource) (bool, error) {
	_, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{
		RoleName: awssdk.String(resource.Metadata[MetaRoleName]),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check role %s: %w", resource.Name, err)
	}
	return true, nil
}

// attachAgentPolicy attaches the CloudWatch agent managed policy to the
// stack role. AttachRolePolicy is idempotent, no existence check needed.
func (p *Provisioner) attachAgentPolicy(ctx context.Context, stack *config.Stack) (*types.Resource, error) {
	roleName := stack.ResourceName("role")

	_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  awssdk.String(roleName),
		PolicyArn: awssdk.String(CloudWatchAgentPolicyArn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach agent policy to %s: %w", roleName, err)
	}

	return &types.Resource{
		Kind:      types.KindPolicyAttachment,
		ID:        roleName + "/" + CloudWatchAgentPolicyArn,
		Name:      stack.ResourceName("agent-policy"),
		Stack:     stack.Name,
		Region:    "global",
		AccountID: p.accountID,
		Status:    "attached",
		CreatedAt: time.Now(),
		Metadata: map[string]string{
			MetaRoleName:  roleName,
			MetaPolicyArn: CloudWatchAgentPolicyArn,
		},
	}, nil
}

func (p *Provisioner) detachAgentPolicy(ctx context.Context, resource *types.Resource) error {
	_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  awssdk.String(resource.Metadata[MetaRoleName]),
		PolicyArn: awssdk.String(resource.Metadata[MetaPolicyArn]),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to detach policy from %s: %w", resource.Metadata[MetaRoleName], err)
	}
	return nil
}

func (p *Provisioner) policyAttached(ctx context.Context, resource *types.Resource) (bool, error) {
	output, err := p.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: awssdk.String(resource.Metadata[MetaRoleName]),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to list attached policies: %w", err)
	}

	for _, policy := range output.AttachedPolicies {
		if awssdk.ToString(policy.PolicyArn) == resource.Metadata[MetaPolicyArn] {
			return true, nil
		}
	}
	return false, nil
}

// createInstanceProfile ensures the instance profile exists and carries
// the stack role
func (p *Provisioner) createInstanceProfile(ctx context.Context, stack *config.Stack) (*types.Resource, error) {
	profileName := stack.ResourceName("profile")
	roleName := stack.ResourceName("role")

	existing, err := p.iamClient.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
	})
	if err == nil {
		if err := p.ensureRoleInProfile(ctx, existing.InstanceProfile, profileName, roleName); err != nil {
			return nil, err
		}
		return p.profileResource(stack, profileName, roleName, awssdk.ToString(existing.InstanceProfile.Arn)), nil
	}
	var notFound *iamtypes.NoSuchEntityException
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("failed to check instance profile %s: %w", profileName, err)
	}

	output, err := p.iamClient.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
		Tags:                convertIAMTags(stackTags(stack, profileName)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create instance profile %s: %w", profileName, err)
	}

	if _, err := p.iamClient.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
		RoleName:            awssdk.String(roleName),
	}); err != nil {
		return nil, fmt.Errorf("failed to add role to instance profile %s: %w", profileName, err)
	}

	return p.profileResource(stack, profileName, roleName, awssdk.ToString(output.InstanceProfile.Arn)), nil
}

func (p *Provisioner) ensureRoleInProfile(ctx context.Context, profile *iamtypes.InstanceProfile, profileName, roleName string) error {
	for _, role := range profile.Roles {
		if awssdk.ToString(role.RoleName) == roleName {
			return nil
		}
	}
	if _, err := p.iamClient.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
		RoleName:            awssdk.String(roleName),
	}); err != nil {
		return fmt.Errorf("failed to add role to instance profile %s: %w", profileName, err)
	}
	return nil
}

func (p *Provisioner) profileResource(stack *config.Stack, profileName, roleName, arn string) *types.Resource {
	return &types.Resource{
		Kind:      types.KindInstanceProfile,
		ID:        arn,
		Name:      profileName,
		Stack:     stack.Name,
		Region:    "global",
		AccountID: p.accountID,
		Status:    "active",
		Tags:      stackTags(stack, profileName),
		CreatedAt: time.Now(),
		Metadata: map[string]string{
			MetaProfileName: profileName,
			MetaProfileArn:  arn,
			MetaRoleName:    roleName,
		},
	}
}

// deleteInstanceProfile detaches the role and removes the profile
func (p *Provisioner) deleteInstanceProfile(ctx context.Context, resource *types.Resource) error {
	profileName := resource.Metadata[MetaProfileName]
	roleName := resource.Metadata[MetaRoleName]

	// The role must leave the profile before the profile can go
	if _, err := p.iamClient.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
		RoleName:            awssdk.String(roleName),
	}); err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to remove role from instance profile %s: %w", profileName, err)
		}
	}

	if _, err := p.iamClient.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: awssdk.String(profileName),
	}); err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete instance profile %s: %w", profileName, err)
	}
	return nil
}

func (p *Provisioner) instanceProfileExists(ctx context.Context, resource *types.Resource) (bool, error) {
	_, err := p.iamClient.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: awssdk.String(resource.Metadata[MetaProfileName]),
	})
	if err != nil {
		var notFound *iamtypes.NoSuchEntityException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check instance profile %s: %w", resource.Name, err)
	}
	return true, nil
}

// convertIAMTags converts a tag map to IAM tag structs
func convertIAMTags(tags map[string]string) []iamtypes.Tag {
	var iamTags []iamtypes.Tag
	for key, value := range tags {
		iamTags = append(iamTags, iamtypes.Tag{
			Key:   awssdk.String(key),
			Value: awssdk.String(value),
		})
	}
	return iamTags
}
