package aws

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/perusta/config"
	"github.com/yairfalse/perusta/types"
)

// uploadSiteArtifact pushes the local site template zip to the
// configured bucket so the boot script can fetch it with the role's
// credentials instead of hitting a third-party URL.
func (p *Provisioner) uploadSiteArtifact(ctx context.Context, stack *config.Stack) (*types.Resource, error) {
	ref := stack.Web.TemplateS3
	if ref == nil {
		return nil, fmt.Errorf("stack has no S3 template reference")
	}

	if ref.LocalPath != "" {
		file, err := os.Open(ref.LocalPath) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("failed to open site artifact %s: %w", ref.LocalPath, err)
		}
		defer func() { _ = file.Close() }()

		_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: awssdk.String(ref.Bucket),
			Key:    awssdk.String(ref.Key),
			Body:   file,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upload site artifact to s3://%s/%s: %w", ref.Bucket, ref.Key, err)
		}
	} else {
		// No local file: the object must already be there
		_, err := p.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: awssdk.String(ref.Bucket),
			Key:    awssdk.String(ref.Key),
		})
		if err != nil {
			return nil, fmt.Errorf("site artifact s3://%s/%s not found: %w", ref.Bucket, ref.Key, err)
		}
	}

	return &types.Resource{
		Kind:      types.KindSiteArtifact,
		ID:        "s3://" + ref.Bucket + "/" + ref.Key,
		Name:      stack.ResourceName("site-artifact"),
		Stack:     stack.Name,
		Region:    p.region,
		AccountID: p.accountID,
		Status:    "uploaded",
		CreatedAt: time.Now(),
		Metadata: map[string]string{
			MetaBucket: ref.Bucket,
			MetaKey:    ref.Key,
		},
	}, nil
}

func (p *Provisioner) deleteSiteArtifact(ctx context.Context, resource *types.Resource) error {
	_, err := p.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(resource.Metadata[MetaBucket]),
		Key:    awssdk.String(resource.Metadata[MetaKey]),
	})
	if err != nil {
		return fmt.Errorf("failed to delete site artifact %s: %w", resource.ID, err)
	}
	return nil
}

func (p *Provisioner) siteArtifactExists(ctx context.Context, resource *types.Resource) (bool, error) {
	_, err := p.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: awssdk.String(resource.Metadata[MetaBucket]),
		Key:    awssdk.String(resource.Metadata[MetaKey]),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check site artifact %s: %w", resource.ID, err)
	}
	return true, nil
}
