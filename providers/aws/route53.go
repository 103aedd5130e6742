package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/providers"
	"github.com/yairfalse/perusta/types"
)

// upsertDNSRecord points the configured record at the instance public IP
func (p *Provisioner) upsertDNSRecord(ctx context.Context, stack *config.Stack, prior providers.Created) (*types.Resource, error) {
	if stack.DNS == nil {
		return nil, fmt.Errorf("stack has no dns section")
	}
	instance, ok := prior[types.KindInstance]
	if !ok {
		return nil, fmt.Errorf("dns record requires the instance to exist first")
	}
	publicIP := instance.Metadata[MetaPublicIP]
	if publicIP == "" {
		return nil, fmt.Errorf("instance %s has no public IP recorded", instance.ID)
	}

	if err := p.changeRecord(ctx, r53types.ChangeActionUpsert, stack.DNS.ZoneID, stack.DNS.RecordName, publicIP, stack.DNS.TTL); err != nil {
		return nil, fmt.Errorf("failed to upsert record %s: %w", stack.DNS.RecordName, err)
	}

	return &types.Resource{
		Kind:      types.KindDNSRecord,
		ID:        stack.DNS.ZoneID + "/" + stack.DNS.RecordName,
		Name:      stack.DNS.RecordName,
		Stack:     stack.Name,
		Region:    "global",
		AccountID: p.accountID,
		Status:    "upserted",
		CreatedAt: time.Now(),
		Metadata: map[string]string{
			MetaZoneID:      stack.DNS.ZoneID,
			MetaRecordName:  stack.DNS.RecordName,
			MetaRecordValue: publicIP,
			MetaTTL:         strconv.FormatInt(stack.DNS.TTL, 10),
		},
	}, nil
}

func (p *Provisioner) deleteDNSRecord(ctx context.Context, resource *types.Resource) error {
	ttl, err := strconv.ParseInt(resource.Metadata[MetaTTL], 10, 64)
	if err != nil {
		ttl = 60
	}

	err = p.changeRecord(ctx, r53types.ChangeActionDelete,
		resource.Metadata[MetaZoneID],
		resource.Metadata[MetaRecordName],
		resource.Metadata[MetaRecordValue],
		ttl)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", resource.Name, err)
	}
	return nil
}

func (p *Provisioner) changeRecord(ctx context.Context, action r53types.ChangeAction, zoneID, name, value string, ttl int64) error {
	_, err := p.r53Client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: awssdk.String(zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action: action,
				ResourceRecordSet: &r53types.ResourceRecordSet{
					Name: awssdk.String(name),
					Type: r53types.RRTypeA,
					TTL:  awssdk.Int64(ttl),
					ResourceRecords: []r53types.ResourceRecord{{
						Value: awssdk.String(value),
					}},
				},
			}},
		},
	})
	return err
}

func (p *Provisioner) dnsRecordExists(ctx context.Context, resource *types.Resource) (bool, error) {
	name := resource.Metadata[MetaRecordName]
	output, err := p.r53Client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    awssdk.String(resource.Metadata[MetaZoneID]),
		StartRecordName: awssdk.String(name),
		StartRecordType: r53types.RRTypeA,
		MaxItems:        awssdk.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list records in zone %s: %w", resource.Metadata[MetaZoneID], err)
	}

	for _, set := range output.ResourceRecordSets {
		// Route53 returns names with a trailing dot
		got := awssdk.ToString(set.Name)
		if got == name || got == name+"." {
			return true, nil
		}
	}
	return false, nil
}
