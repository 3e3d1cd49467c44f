package agents

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/logging"
)

const cloudInfraName = "CloudInfra"

// s3API and ec2API cover the SDK calls the agent makes, so tests can stub the
// SDK clients.
type s3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// CloudInfraAgent is a read-only agent over cloud storage and compute.
type CloudInfraAgent struct {
	s3Client  s3API
	ec2Client ec2API
	logger    logging.Logger
}

// NewCloudInfra builds the agent from an SDK configuration.
func NewCloudInfra(cfg aws.Config, logger logging.Logger) *CloudInfraAgent {
	return &CloudInfraAgent{
		s3Client:  s3.NewFromConfig(cfg),
		ec2Client: ec2.NewFromConfig(cfg),
		logger:    logger,
	}
}

func (a *CloudInfraAgent) Name() string { return cloudInfraName }

func (a *CloudInfraAgent) Operations() map[string]castellan.AgentOperation {
	return map[string]castellan.AgentOperation{
		"ListBuckets":       a.listBuckets,
		"DescribeInstances": a.describeInstances,
		"GetObjectMetadata": a.getObjectMetadata,
	}
}

func (a *CloudInfraAgent) listBuckets(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	out, err := a.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		a.logger.Error("failed to list buckets", map[string]any{"error": err.Error()})
		return nil, castellan.NewAgentError(cloudInfraName, "ListBuckets", "failed to list buckets", err)
	}

	buckets := make([]string, 0, len(out.Buckets))
	for _, bucket := range out.Buckets {
		buckets = append(buckets, aws.ToString(bucket.Name))
	}
	return &castellan.AgentResult{Payload: map[string]any{"buckets": buckets}}, nil
}

func (a *CloudInfraAgent) describeInstances(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	region, err := stringArg(args, "region")
	if err != nil {
		return nil, castellan.NewAgentError(cloudInfraName, "DescribeInstances", err.Error(), nil)
	}
	if err := validateRegion(region); err != nil {
		return nil, castellan.NewAgentError(cloudInfraName, "DescribeInstances", err.Error(), nil)
	}

	out, err := a.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{}, func(o *ec2.Options) {
		o.Region = region
	})
	if err != nil {
		a.logger.Error("failed to describe instances", map[string]any{
			"region": region, "error": err.Error(),
		})
		return nil, castellan.NewAgentError(cloudInfraName, "DescribeInstances", "failed to describe instances", err)
	}

	instances := make([]map[string]any, 0)
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			entry := map[string]any{
				"instance_id":   aws.ToString(instance.InstanceId),
				"instance_type": string(instance.InstanceType),
			}
			if instance.State != nil {
				entry["state"] = string(instance.State.Name)
			}
			if instance.LaunchTime != nil {
				entry["launch_time"] = instance.LaunchTime.Format(time.RFC3339)
			}
			for _, tag := range instance.Tags {
				if aws.ToString(tag.Key) == "Name" {
					entry["name"] = aws.ToString(tag.Value)
				}
			}
			instances = append(instances, entry)
		}
	}
	return &castellan.AgentResult{Payload: map[string]any{"region": region, "instances": instances}}, nil
}

func (a *CloudInfraAgent) getObjectMetadata(ctx context.Context, args map[string]any) (*castellan.AgentResult, error) {
	bucket, err := stringArg(args, "bucket")
	if err != nil {
		return nil, castellan.NewAgentError(cloudInfraName, "GetObjectMetadata", err.Error(), nil)
	}
	if err := validateBucket(bucket); err != nil {
		return nil, castellan.NewAgentError(cloudInfraName, "GetObjectMetadata", err.Error(), nil)
	}
	key, err := stringArg(args, "key")
	if err != nil {
		return nil, castellan.NewAgentError(cloudInfraName, "GetObjectMetadata", err.Error(), nil)
	}

	out, err := a.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		a.logger.Error("failed to fetch object metadata", map[string]any{
			"bucket": bucket, "key": key, "error": err.Error(),
		})
		return nil, castellan.NewAgentError(cloudInfraName, "GetObjectMetadata", "failed to fetch object metadata", err)
	}

	payload := map[string]any{
		"bucket":         bucket,
		"key":            key,
		"content_length": aws.ToInt64(out.ContentLength),
		"content_type":   aws.ToString(out.ContentType),
		"etag":           aws.ToString(out.ETag),
	}
	if out.LastModified != nil {
		payload["last_modified"] = out.LastModified.Format(time.RFC3339)
	}
	return &castellan.AgentResult{Payload: payload}, nil
}
