package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/logging"
)

type stubS3 struct {
	listOut *s3.ListBucketsOutput
	headOut *s3.HeadObjectOutput
	err     error
}

func (s *stubS3) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	return s.listOut, s.err
}

func (s *stubS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return s.headOut, s.err
}

type stubEC2 struct {
	out *ec2.DescribeInstancesOutput
	err error
}

func (s *stubEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return s.out, s.err
}

func TestListBuckets(t *testing.T) {
	agent := &CloudInfraAgent{
		s3Client: &stubS3{listOut: &s3.ListBucketsOutput{Buckets: []s3types.Bucket{
			{Name: aws.String("artifacts")},
			{Name: aws.String("backups")},
		}}},
		logger: logging.Nop{},
	}

	result, err := agent.listBuckets(context.Background(), map[string]any{})
	require.NoError(t, err)
	payload := result.Payload.(map[string]any)
	assert.Equal(t, []string{"artifacts", "backups"}, payload["buckets"])
}

func TestDescribeInstances(t *testing.T) {
	launched := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	agent := &CloudInfraAgent{
		ec2Client: &stubEC2{out: &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceId:   aws.String("i-0abc"),
				InstanceType: ec2types.InstanceTypeT3Micro,
				State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
				LaunchTime:   &launched,
				Tags:         []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("api-1")}},
			}},
		}}}},
		logger: logging.Nop{},
	}

	result, err := agent.describeInstances(context.Background(), map[string]any{"region": "us-east-2"})
	require.NoError(t, err)
	payload := result.Payload.(map[string]any)
	instances := payload["instances"].([]map[string]any)
	require.Len(t, instances, 1)
	assert.Equal(t, "i-0abc", instances[0]["instance_id"])
	assert.Equal(t, "running", instances[0]["state"])
	assert.Equal(t, "api-1", instances[0]["name"])
}

func TestDescribeInstancesWithoutState(t *testing.T) {
	agent := &CloudInfraAgent{
		ec2Client: &stubEC2{out: &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceId:   aws.String("i-0pending"),
				InstanceType: ec2types.InstanceTypeT3Micro,
			}},
		}}}},
		logger: logging.Nop{},
	}

	result, err := agent.describeInstances(context.Background(), map[string]any{"region": "us-east-2"})
	require.NoError(t, err)
	payload := result.Payload.(map[string]any)
	instances := payload["instances"].([]map[string]any)
	require.Len(t, instances, 1)
	assert.Equal(t, "i-0pending", instances[0]["instance_id"])
	assert.NotContains(t, instances[0], "state")
}

func TestDescribeInstancesRejectsBadRegion(t *testing.T) {
	agent := &CloudInfraAgent{ec2Client: &stubEC2{}, logger: logging.Nop{}}

	_, err := agent.describeInstances(context.Background(), map[string]any{"region": "US_EAST"})
	require.Error(t, err)
	_, ok := castellan.AsAgentError(err)
	assert.True(t, ok)
}

func TestGetObjectMetadata(t *testing.T) {
	modified := time.Date(2026, 7, 15, 9, 30, 0, 0, time.UTC)
	agent := &CloudInfraAgent{
		s3Client: &stubS3{headOut: &s3.HeadObjectOutput{
			ContentLength: aws.Int64(2048),
			ContentType:   aws.String("application/gzip"),
			ETag:          aws.String(`"etag-1"`),
			LastModified:  &modified,
		}},
		logger: logging.Nop{},
	}

	result, err := agent.getObjectMetadata(context.Background(), map[string]any{
		"bucket": "artifacts", "key": "builds/app-1.2.0.tar.gz",
	})
	require.NoError(t, err)
	payload := result.Payload.(map[string]any)
	assert.Equal(t, int64(2048), payload["content_length"])
	assert.Equal(t, "application/gzip", payload["content_type"])
}

func TestCloudFailuresBecomeAgentErrors(t *testing.T) {
	agent := &CloudInfraAgent{
		s3Client: &stubS3{err: errors.New("access denied")},
		logger:   logging.Nop{},
	}

	_, err := agent.listBuckets(context.Background(), map[string]any{})
	require.Error(t, err)
	agentErr, ok := castellan.AsAgentError(err)
	require.True(t, ok)
	assert.Equal(t, cloudInfraName, agentErr.Agent)
}
