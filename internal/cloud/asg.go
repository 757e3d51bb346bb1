// Package cloud wraps the AWS service calls this system depends on: the
// autoscaling group membership lookup and KMS decryption of config secrets.
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/retry"
)

// AutoScalingAPI is the subset of the autoscaling client used here.
type AutoScalingAPI interface {
	DescribeAutoScalingInstances(ctx context.Context, params *autoscaling.DescribeAutoScalingInstancesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingInstancesOutput, error)
}

// ASG answers group membership questions for EC2 instances.
type ASG struct {
	api    AutoScalingAPI
	logger *zap.Logger
}

// NewASG creates a membership oracle backed by the given client.
func NewASG(api AutoScalingAPI, logger *zap.Logger) *ASG {
	return &ASG{
		api:    api,
		logger: logger.Named("asg"),
	}
}

// NewASGFromConfig creates a membership oracle from an AWS SDK config.
func NewASGFromConfig(cfg aws.Config, logger *zap.Logger) *ASG {
	return NewASG(autoscaling.NewFromConfig(cfg), logger)
}

// GroupForInstance returns the autoscaling group the instance currently
// belongs to. The second result is false when the instance is not a member
// of any group; that is a legitimate answer, not an error. API failures are
// returned as transient errors so the caller can retry, never as "no group".
func (a *ASG) GroupForInstance(ctx context.Context, instanceID string) (string, bool, error) {
	a.logger.Debug("Retrieving autoscaling group for instance",
		zap.String("instance_id", instanceID))

	out, err := a.api.DescribeAutoScalingInstances(ctx, &autoscaling.DescribeAutoScalingInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", false, retry.Transient(fmt.Errorf("failed to describe autoscaling instance %s: %w", instanceID, err))
	}

	if len(out.AutoScalingInstances) == 0 {
		a.logger.Debug("Instance is not a member of any autoscaling group",
			zap.String("instance_id", instanceID))
		return "", false, nil
	}

	group := aws.ToString(out.AutoScalingInstances[0].AutoScalingGroupName)
	if group == "" {
		return "", false, fmt.Errorf("autoscaling instance %s has an empty group name", instanceID)
	}

	a.logger.Debug("Resolved autoscaling group",
		zap.String("instance_id", instanceID),
		zap.String("group", group))
	return group, true, nil
}
