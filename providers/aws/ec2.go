package aws

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/types"
	"github.com/yairfalse/perusta/userdata"
)

// publicIPWait bounds how long runInstance waits for the instance to
// get its public address.
const (
	publicIPWait    = 2 * time.Minute
	terminateWait   = 5 * time.Minute
	statePollEvery  = 5 * time.Second
	rootDeviceName  = "/dev/xvda"
	gp3VolumeType   = ec2types.VolumeTypeGp3
	stateTerminated = string(ec2types.InstanceStateNameTerminated)
)

// resolveAMI returns the image ID for the stack, either the literal from
// config or the most recent image matching the lookup pattern.
func (p *Provisioner) resolveAMI(ctx context.Context, stack *config.Stack) (string, error) {
	if stack.Instance.AMI != "" {
		return stack.Instance.AMI, nil
	}

	lookup := stack.Instance.AMILookup
	output, err := p.ec2Client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{lookup.Owner},
		Filters: []ec2types.Filter{
			{Name: awssdk.String("name"), Values: []string{lookup.NamePattern}},
			{Name: awssdk.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up AMI %q: %w", lookup.NamePattern, err)
	}
	if len(output.Images) == 0 {
		return "", fmt.Errorf("no AMI matches %q owned by %s", lookup.NamePattern, lookup.Owner)
	}

	// Most recent by creation date
	images := output.Images
	sort.Slice(images, func(i, j int) bool {
		return awssdk.ToString(images[i].CreationDate) > awssdk.ToString(images[j].CreationDate)
	})

	return awssdk.ToString(images[0].ImageId), nil
}

// createSecurityGroup ensures the stack security group with its SSH and
// HTTP ingress rules
func (p *Provisioner) createSecurityGroup(ctx context.Context, stack *config.Stack) (*types.Resource, error) {
	groupName := stack.ResourceName("sg")

	if existing, err := p.findSecurityGroup(ctx, groupName); err != nil {
		return nil, err
	} else if existing != "" {
		return p.securityGroupResource(stack, groupName, existing), nil
	}

	output, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   awssdk.String(groupName),
		Description: awssdk.String(fmt.Sprintf("Web and SSH ingress for stack %s", stack.Name)),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSecurityGroup,
			Tags:         convertEC2Tags(stackTags(stack, groupName)),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group %s: %w", groupName, err)
	}
	groupID := awssdk.ToString(output.GroupId)

	_, err = p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: awssdk.String(groupID),
		IpPermissions: []ec2types.IpPermission{
			{
				IpProtocol: awssdk.String("tcp"),
				FromPort:   awssdk.Int32(22),
				ToPort:     awssdk.Int32(22),
				IpRanges: []ec2types.IpRange{{
					CidrIp:      awssdk.String(stack.Network.SSHCIDR),
					Description: awssdk.String("SSH"),
				}},
			},
			{
				IpProtocol: awssdk.String("tcp"),
				FromPort:   awssdk.Int32(stack.Network.HTTPPort),
				ToPort:     awssdk.Int32(stack.Network.HTTPPort),
				IpRanges: []ec2types.IpRange{{
					CidrIp:      awssdk.String("0.0.0.0/0"),
					Description: awssdk.String("HTTP"),
				}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authorize ingress on %s: %w", groupName, err)
	}

	return p.securityGroupResource(stack, groupName, groupID), nil
}

func (p *Provisioner) findSecurityGroup(ctx context.Context, groupName string) (string, error) {
	output, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: awssdk.String("group-name"), Values: []string{groupName}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up security group %s: %w", groupName, err)
	}
	if len(output.SecurityGroups) == 0 {
		return "", nil
	}
	return awssdk.ToString(output.SecurityGroups[0].GroupId), nil
}

func (p *Provisioner) securityGroupResource(stack *config.Stack, groupName, groupID string) *types.Resource {
	return &types.Resource{
		Kind:      types.KindSecurityGroup,
		ID:        groupID,
		Name:      groupName,
		Stack:     stack.Name,
		Region:    p.region,
		AccountID: p.accountID,
		Status:    "active",
		Tags:      stackTags(stack, groupName),
		CreatedAt: time.Now(),
		Metadata:  map[string]string{MetaGroupID: groupID},
	}
}

func (p *Provisioner) deleteSecurityGroup(ctx context.Context, resource *types.Resource) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: awssdk.String(resource.ID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete security group %s: %w", resource.Name, err)
	}
	return nil
}

func (p *Provisioner) securityGroupExists(ctx context.Context, resource *types.Resource) (bool, error) {
	groupID, err := p.findSecurityGroup(ctx, resource.Name)
	if err != nil {
		return false, err
	}
	return groupID != "", nil
}

// runInstance launches the stack VM with the rendered boot script
func (p *Provisioner) runInstance(ctx context.Context, stack *config.Stack, prior providers.Created) (*types.Resource, error) {
	sg, ok := prior[types.KindSecurityGroup]
	if !ok {
		return nil, fmt.Errorf("instance requires the security group to exist first")
	}
	profile, ok := prior[types.KindInstanceProfile]
	if !ok {
		return nil, fmt.Errorf("instance requires the instance profile to exist first")
	}

	amiID, err := p.resolveAMI(ctx, stack)
	if err != nil {
		return nil, err
	}

	script, err := userdata.RenderBootScript(stack)
	if err != nil {
		return nil, fmt.Errorf("failed to render boot script: %w", err)
	}

	instanceName := stack.ResourceName("web")
	input := &ec2.RunInstancesInput{
		ImageId:      awssdk.String(amiID),
		InstanceType: ec2types.InstanceType(stack.Instance.Type),
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
		SecurityGroupIds: []string{
			sg.Metadata[MetaGroupID],
		},
		IamInstanceProfile: &ec2types.IamInstanceProfileSpecification{
			Name: awssdk.String(profile.Metadata[MetaProfileName]),
		},
		UserData: awssdk.String(base64.StdEncoding.EncodeToString([]byte(script))),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         convertEC2Tags(stackTags(stack, instanceName)),
		}},
	}
	if stack.Instance.KeyName != "" {
		input.KeyName = awssdk.String(stack.Instance.KeyName)
	}
	if stack.Instance.VolumeGB > 0 {
		input.BlockDeviceMappings = []ec2types.BlockDeviceMapping{{
			DeviceName: awssdk.String(rootDeviceName),
			Ebs: &ec2types.EbsBlockDevice{
				VolumeSize:          awssdk.Int32(stack.Instance.VolumeGB),
				VolumeType:          gp3VolumeType,
				DeleteOnTermination: awssdk.Bool(true),
			},
		}}
	}

	output, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(output.Instances) == 0 {
		return nil, fmt.Errorf("RunInstances returned no instances")
	}

	instance := output.Instances[0]
	instanceID := awssdk.ToString(instance.InstanceId)

	publicIP, privateIP, err := p.waitForPublicIP(ctx, instanceID)
	if err != nil {
		// The launch succeeded but nothing will record it, so undo it
		// here or the instance leaks outside state and rollback.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateWait)
		defer cancel()
		if termErr := p.terminateInstance(cleanupCtx, &types.Resource{Kind: types.KindInstance, ID: instanceID}); termErr != nil {
			return nil, fmt.Errorf("instance %s launched but address wait failed: %w (termination also failed: %v)", instanceID, err, termErr)
		}
		return nil, fmt.Errorf("instance %s launched but address wait failed, instance terminated: %w", instanceID, err)
	}

	return &types.Resource{
		Kind:      types.KindInstance,
		ID:        instanceID,
		Name:      instanceName,
		Stack:     stack.Name,
		Region:    p.region,
		AccountID: p.accountID,
		Status:    "running",
		Tags:      stackTags(stack, instanceName),
		CreatedAt: time.Now(),
		Metadata: map[string]string{
			MetaAMI:       amiID,
			MetaPublicIP:  publicIP,
			MetaPrivateIP: privateIP,
		},
	}, nil
}

// waitForPublicIP polls until the instance has a public address.
// A public IP is assigned once the instance leaves pending.
func (p *Provisioner) waitForPublicIP(ctx context.Context, instanceID string) (string, string, error) {
	deadline := time.Now().Add(publicIPWait)
	ticker := time.NewTicker(statePollEvery)
	defer ticker.Stop()

	for {
		instance, err := p.describeInstance(ctx, instanceID)
		if err != nil {
			return "", "", err
		}
		if instance != nil && instance.PublicIpAddress != nil {
			return awssdk.ToString(instance.PublicIpAddress), awssdk.ToString(instance.PrivateIpAddress), nil
		}
		if time.Now().After(deadline) {
			return "", "", fmt.Errorf("timed out waiting for public IP on %s", instanceID)
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Provisioner) describeInstance(ctx context.Context, instanceID string) (*ec2types.Instance, error) {
	output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		// Terminated instances eventually disappear from the API entirely
		if strings.Contains(err.Error(), "InvalidInstanceID.NotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			return &instance, nil
		}
	}
	return nil, nil
}

// terminateInstance terminates the VM and waits until it is gone so the
// security group can be deleted afterwards
func (p *Provisioner) terminateInstance(ctx context.Context, resource *types.Resource) error {
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{resource.ID},
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", resource.ID, err)
	}

	deadline := time.Now().Add(terminateWait)
	ticker := time.NewTicker(statePollEvery)
	defer ticker.Stop()

	for {
		instance, err := p.describeInstance(ctx, resource.ID)
		if err != nil {
			return err
		}
		if instance == nil || (instance.State != nil && string(instance.State.Name) == stateTerminated) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s to terminate", resource.ID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Provisioner) instanceExists(ctx context.Context, resource *types.Resource) (bool, error) {
	instance, err := p.describeInstance(ctx, resource.ID)
	if err != nil {
		return false, err
	}
	if instance == nil {
		return false, nil
	}
	// DescribeInstances can transiently omit the state block
	if instance.State == nil {
		return true, nil
	}
	return string(instance.State.Name) != stateTerminated, nil
}

func (p *Provisioner) instanceStatus(ctx context.Context, resource *types.Resource) (string, error) {
	instance, err := p.describeInstance(ctx, resource.ID)
	if err != nil {
		return "", err
	}
	if instance == nil {
		return "missing", nil
	}
	if instance.State == nil {
		return "unknown", nil
	}
	return string(instance.State.Name), nil
}

// convertEC2Tags converts a tag map to EC2 tag structs
func convertEC2Tags(tags map[string]string) []ec2types.Tag {
	var ec2Tags []ec2types.Tag
	for key, value := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{
			Key:   awssdk.String(key),
			Value: awssdk.String(value),
		})
	}
	return ec2Tags
}
