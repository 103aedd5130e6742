package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/types"
)

// maxTailStreams caps how many streams one tail poll reads
const maxTailStreams = 10

// createLogGroup ensures the stack log group exists with the configured
// retention
func (p *Provisioner) createLogGroup(ctx context.Context, stack *config.Stack) (*types.Resource, error) {
	groupName := stack.Logging.Group

	_, err := p.cwLogsClient.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: awssdk.String(groupName),
		Tags:         stackTags(stack, groupName),
	})
	if err != nil {
		var exists *cwtypes.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("failed to create log group %s: %w", groupName, err)
		}
	}

	// Retention is set unconditionally so re-applies converge it
	_, err = p.cwLogsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    awssdk.String(groupName),
		RetentionInDays: awssdk.Int32(stack.Logging.RetentionDays),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set retention on %s: %w", groupName, err)
	}

	return &types.Resource{
		Kind:      types.KindLogGroup,
		ID:        groupName,
		Name:      groupName,
		Stack:     stack.Name,
		Region:    p.region,
		AccountID: p.accountID,
		Status:    "active",
		Tags:      stackTags(stack, groupName),
		CreatedAt: time.Now(),
		Metadata: map[string]string{
			"retention_days": fmt.Sprintf("%d", stack.Logging.RetentionDays),
		},
	}, nil
}

func (p *Provisioner) deleteLogGroup(ctx context.Context, resource *types.Resource) error {
	_, err := p.cwLogsClient.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: awssdk.String(resource.ID),
	})
	if err != nil {
		var notFound *cwtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete log group %s: %w", resource.ID, err)
	}
	return nil
}

func (p *Provisioner) findLogGroup(ctx context.Context, groupName string) (*cwtypes.LogGroup, error) {
	output, err := p.cwLogsClient.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: awssdk.String(groupName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe log group %s: %w", groupName, err)
	}
	for _, group := range output.LogGroups {
		if awssdk.ToString(group.LogGroupName) == groupName {
			return &group, nil
		}
	}
	return nil, nil
}

func (p *Provisioner) logGroupExists(ctx context.Context, resource *types.Resource) (bool, error) {
	group, err := p.findLogGroup(ctx, resource.ID)
	if err != nil {
		return false, err
	}
	return group != nil, nil
}

// TailLogs reads events newer than since from the most recently
// active streams of a log group
func (p *Provisioner) TailLogs(ctx context.Context, group string, since time.Time) ([]providers.LogEvent, error) {
	streams, err := p.cwLogsClient.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: awssdk.String(group),
		OrderBy:      cwtypes.OrderByLastEventTime,
		Descending:   awssdk.Bool(true),
		Limit:        awssdk.Int32(maxTailStreams),
	})
	if err != nil {
		var notFound *cwtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe streams of %s: %w", group, err)
	}

	var events []providers.LogEvent
	for _, stream := range streams.LogStreams {
		streamName := awssdk.ToString(stream.LogStreamName)

		output, err := p.cwLogsClient.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  awssdk.String(group),
			LogStreamName: awssdk.String(streamName),
			StartTime:     awssdk.Int64(since.UnixMilli()),
			StartFromHead: awssdk.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get events of %s/%s: %w", group, streamName, err)
		}

		for _, event := range output.Events {
			events = append(events, providers.LogEvent{
				Stream:    streamName,
				Message:   awssdk.ToString(event.Message),
				Timestamp: time.UnixMilli(awssdk.ToInt64(event.Timestamp)),
			})
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (p *Provisioner) logGroupStatus(ctx context.Context, resource *types.Resource) (string, error) {
	group, err := p.findLogGroup(ctx, resource.ID)
	if err != nil {
		return "", err
	}
	if group == nil {
		return "missing", nil
	}
	if group.RetentionInDays == nil {
		return "active (no retention)", nil
	}
	return fmt.Sprintf("active (retention %dd)", *group.RetentionInDays), nil
}
