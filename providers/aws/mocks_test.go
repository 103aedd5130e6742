package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockIAM implements IAMAPI in memory
type mockIAM struct {
	roles       map[string]string   // name -> arn
	profiles    map[string][]string // name -> role names
	attachments map[string][]string // role name -> policy arns
}

func newMockIAM() *mockIAM {
	return &mockIAM{
		roles:       make(map[string]string),
		profiles:    make(map[string][]string),
		attachments: make(map[string][]string),
	}
}

func (m *mockIAM) CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	name := awssdk.ToString(params.RoleName)
	if _, ok := m.roles[name]; ok {
		return nil, &iamtypes.EntityAlreadyExistsException{}
	}
	arn := "arn:aws:iam::111122223333:role/" + name
	m.roles[name] = arn
	return &iam.CreateRoleOutput{
		Role: &iamtypes.Role{RoleName: params.RoleName, Arn: awssdk.String(arn)},
	}, nil
}

func (m *mockIAM) GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	name := awssdk.ToString(params.RoleName)
	arn, ok := m.roles[name]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{}
	}
	return &iam.GetRoleOutput{
		Role: &iamtypes.Role{RoleName: params.RoleName, Arn: awssdk.String(arn)},
	}, nil
}

func (m *mockIAM) DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	name := awssdk.ToString(params.RoleName)
	if _, ok := m.roles[name]; !ok {
		return nil, &iamtypes.NoSuchEntityException{}
	}
	delete(m.roles, name)
	return &iam.DeleteRoleOutput{}, nil
}

func (m *mockIAM) AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	role := awssdk.ToString(params.RoleName)
	m.attachments[role] = append(m.attachments[role], awssdk.ToString(params.PolicyArn))
	return &iam.AttachRolePolicyOutput{}, nil
}

func (m *mockIAM) DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	role := awssdk.ToString(params.RoleName)
	arn := awssdk.ToString(params.PolicyArn)
	var kept []string
	for _, a := range m.attachments[role] {
		if a != arn {
			kept = append(kept, a)
		}
	}
	m.attachments[role] = kept
	return &iam.DetachRolePolicyOutput{}, nil
}

func (m *mockIAM) ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	role := awssdk.ToString(params.RoleName)
	var policies []iamtypes.AttachedPolicy
	for _, arn := range m.attachments[role] {
		policies = append(policies, iamtypes.AttachedPolicy{PolicyArn: awssdk.String(arn)})
	}
	return &iam.ListAttachedRolePoliciesOutput{AttachedPolicies: policies}, nil
}

func (m *mockIAM) CreateInstanceProfile(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error) {
	name := awssdk.ToString(params.InstanceProfileName)
	m.profiles[name] = nil
	return &iam.CreateInstanceProfileOutput{
		InstanceProfile: &iamtypes.InstanceProfile{
			InstanceProfileName: params.InstanceProfileName,
			Arn:                 awssdk.String("arn:aws:iam::111122223333:instance-profile/" + name),
		},
	}, nil
}

func (m *mockIAM) GetInstanceProfile(ctx context.Context, params *iam.GetInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error) {
	name := awssdk.ToString(params.InstanceProfileName)
	roles, ok := m.profiles[name]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{}
	}
	profile := &iamtypes.InstanceProfile{
		InstanceProfileName: params.InstanceProfileName,
		Arn:                 awssdk.String("arn:aws:iam::111122223333:instance-profile/" + name),
	}
	for _, r := range roles {
		profile.Roles = append(profile.Roles, iamtypes.Role{RoleName: awssdk.String(r)})
	}
	return &iam.GetInstanceProfileOutput{InstanceProfile: profile}, nil
}

func (m *mockIAM) DeleteInstanceProfile(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error) {
	name := awssdk.ToString(params.InstanceProfileName)
	if _, ok := m.profiles[name]; !ok {
		return nil, &iamtypes.NoSuchEntityException{}
	}
	delete(m.profiles, name)
	return &iam.DeleteInstanceProfileOutput{}, nil
}

func (m *mockIAM) AddRoleToInstanceProfile(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error) {
	name := awssdk.ToString(params.InstanceProfileName)
	m.profiles[name] = append(m.profiles[name], awssdk.ToString(params.RoleName))
	return &iam.AddRoleToInstanceProfileOutput{}, nil
}

func (m *mockIAM) RemoveRoleFromInstanceProfile(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error) {
	name := awssdk.ToString(params.InstanceProfileName)
	role := awssdk.ToString(params.RoleName)
	var kept []string
	for _, r := range m.profiles[name] {
		if r != role {
			kept = append(kept, r)
		}
	}
	m.profiles[name] = kept
	return &iam.RemoveRoleFromInstanceProfileOutput{}, nil
}

// mockEC2 implements EC2API in memory
type mockEC2 struct {
	images        []ec2types.Image
	groups        map[string]string // name -> id
	instances     map[string]*ec2types.Instance
	lastRunInput  *ec2.RunInstancesInput
	ingressCalls  []*ec2.AuthorizeSecurityGroupIngressInput
	nextGroupID   int
	nextInstance  int
	assignIPDelay int // DescribeInstances calls before a public IP shows up
}

func newMockEC2() *mockEC2 {
	return &mockEC2{
		groups:    make(map[string]string),
		instances: make(map[string]*ec2types.Instance),
	}
}

func (m *mockEC2) DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	return &ec2.DescribeImagesOutput{Images: m.images}, nil
}

func (m *mockEC2) CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	m.nextGroupID++
	id := fmt.Sprintf("sg-%08d", m.nextGroupID)
	m.groups[awssdk.ToString(params.GroupName)] = id
	return &ec2.CreateSecurityGroupOutput{GroupId: awssdk.String(id)}, nil
}

func (m *mockEC2) AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	m.ingressCalls = append(m.ingressCalls, params)
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (m *mockEC2) DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	id := awssdk.ToString(params.GroupId)
	for name, gid := range m.groups {
		if gid == id {
			delete(m.groups, name)
			return &ec2.DeleteSecurityGroupOutput{}, nil
		}
	}
	return nil, fmt.Errorf("InvalidGroup.NotFound: %s", id)
}

func (m *mockEC2) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	var out []ec2types.SecurityGroup
	for _, filter := range params.Filters {
		if awssdk.ToString(filter.Name) != "group-name" {
			continue
		}
		for _, want := range filter.Values {
			if id, ok := m.groups[want]; ok {
				out = append(out, ec2types.SecurityGroup{
					GroupName: awssdk.String(want),
					GroupId:   awssdk.String(id),
				})
			}
		}
	}
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: out}, nil
}

func (m *mockEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	m.lastRunInput = params
	m.nextInstance++
	id := fmt.Sprintf("i-%017d", m.nextInstance)
	instance := &ec2types.Instance{
		InstanceId:   awssdk.String(id),
		InstanceType: params.InstanceType,
		State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
	}
	m.instances[id] = instance
	return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{*instance}}, nil
}

func (m *mockEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	var instances []ec2types.Instance
	for _, id := range params.InstanceIds {
		instance, ok := m.instances[id]
		if !ok {
			return nil, fmt.Errorf("InvalidInstanceID.NotFound: %s", id)
		}
		if m.assignIPDelay > 0 {
			m.assignIPDelay--
		} else if instance.PublicIpAddress == nil && instance.State.Name != ec2types.InstanceStateNameTerminated {
			instance.PublicIpAddress = awssdk.String("198.51.100.10")
			instance.PrivateIpAddress = awssdk.String("10.0.0.10")
			instance.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning}
		}
		instances = append(instances, *instance)
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: instances}},
	}, nil
}

func (m *mockEC2) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	for _, id := range params.InstanceIds {
		if instance, ok := m.instances[id]; ok {
			instance.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}
		}
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

// mockCWLogs implements CWLogsAPI in memory
type mockCWLogs struct {
	groups    map[string]int32 // name -> retention days
	retention map[string]int32
	events    map[string][]cwtypes.OutputLogEvent // stream -> events
}

func newMockCWLogs() *mockCWLogs {
	return &mockCWLogs{
		groups:    make(map[string]int32),
		retention: make(map[string]int32),
		events:    make(map[string][]cwtypes.OutputLogEvent),
	}
}

func (m *mockCWLogs) CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	name := awssdk.ToString(params.LogGroupName)
	if _, ok := m.groups[name]; ok {
		return nil, &cwtypes.ResourceAlreadyExistsException{}
	}
	m.groups[name] = 0
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (m *mockCWLogs) PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	name := awssdk.ToString(params.LogGroupName)
	if _, ok := m.groups[name]; !ok {
		return nil, &cwtypes.ResourceNotFoundException{}
	}
	m.retention[name] = awssdk.ToInt32(params.RetentionInDays)
	return &cloudwatchlogs.PutRetentionPolicyOutput{}, nil
}

func (m *mockCWLogs) DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	var out []cwtypes.LogGroup
	for name := range m.groups {
		group := cwtypes.LogGroup{LogGroupName: awssdk.String(name)}
		if days, ok := m.retention[name]; ok && days > 0 {
			group.RetentionInDays = awssdk.Int32(days)
		}
		out = append(out, group)
	}
	return &cloudwatchlogs.DescribeLogGroupsOutput{LogGroups: out}, nil
}

func (m *mockCWLogs) DeleteLogGroup(ctx context.Context, params *cloudwatchlogs.DeleteLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteLogGroupOutput, error) {
	name := awssdk.ToString(params.LogGroupName)
	if _, ok := m.groups[name]; !ok {
		return nil, &cwtypes.ResourceNotFoundException{}
	}
	delete(m.groups, name)
	return &cloudwatchlogs.DeleteLogGroupOutput{}, nil
}

func (m *mockCWLogs) DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	name := awssdk.ToString(params.LogGroupName)
	if _, ok := m.groups[name]; !ok {
		return nil, &cwtypes.ResourceNotFoundException{}
	}
	var streams []cwtypes.LogStream
	for stream := range m.events {
		streams = append(streams, cwtypes.LogStream{LogStreamName: awssdk.String(stream)})
	}
	return &cloudwatchlogs.DescribeLogStreamsOutput{LogStreams: streams}, nil
}

func (m *mockCWLogs) GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error) {
	stream := awssdk.ToString(params.LogStreamName)
	start := awssdk.ToInt64(params.StartTime)

	var out []cwtypes.OutputLogEvent
	for _, event := range m.events[stream] {
		if awssdk.ToInt64(event.Timestamp) >= start {
			out = append(out, event)
		}
	}
	return &cloudwatchlogs.GetLogEventsOutput{Events: out}, nil
}

// mockRoute53 records record set changes
type mockRoute53 struct {
	changes []*route53.ChangeResourceRecordSetsInput
	records map[string]string // name -> value
}

func newMockRoute53() *mockRoute53 {
	return &mockRoute53{records: make(map[string]string)}
}

func (m *mockRoute53) ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	m.changes = append(m.changes, params)
	for _, change := range params.ChangeBatch.Changes {
		name := awssdk.ToString(change.ResourceRecordSet.Name)
		switch change.Action {
		case r53types.ChangeActionUpsert, r53types.ChangeActionCreate:
			m.records[name] = awssdk.ToString(change.ResourceRecordSet.ResourceRecords[0].Value)
		case r53types.ChangeActionDelete:
			delete(m.records, name)
		}
	}
	return &route53.ChangeResourceRecordSetsOutput{}, nil
}

func (m *mockRoute53) ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
	var out []r53types.ResourceRecordSet
	for name := range m.records {
		out = append(out, r53types.ResourceRecordSet{Name: awssdk.String(name + ".")})
	}
	return &route53.ListResourceRecordSetsOutput{ResourceRecordSets: out}, nil
}

// mockS3 records object operations
type mockS3 struct {
	objects map[string]bool // bucket/key
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string]bool)}
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.objects[awssdk.ToString(params.Bucket)+"/"+awssdk.ToString(params.Key)] = true
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if !m.objects[awssdk.ToString(params.Bucket)+"/"+awssdk.ToString(params.Key)] {
		return nil, fmt.Errorf("NotFound: object does not exist")
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, awssdk.ToString(params.Bucket)+"/"+awssdk.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}
