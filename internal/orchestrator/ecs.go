package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"cloudjade-ide/internal/domain"
)

const (
	envCode     = "CODE"
	envLanguage = "LANGUAGE"

	maxStartedByLength = 128
)

// ErrNoTask is returned when ECS accepts the call but starts no task.
var ErrNoTask = errors.New("ecs started no task")

// RunTaskAPI is the subset of the ECS client used by ECSOrchestrator.
type RunTaskAPI interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// ECSConfig names the Fargate resources jobs are launched into.
type ECSConfig struct {
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// ECSOrchestrator runs every job as a one-off Fargate task. Code and
// language reach the container only through environment overrides.
type ECSOrchestrator struct {
	client RunTaskAPI
	cfg    ECSConfig
}

func NewECSOrchestrator(client RunTaskAPI, cfg ECSConfig) *ECSOrchestrator {
	if cfg.ContainerName == "" {
		cfg.ContainerName = "code-execution-container"
	}
	return &ECSOrchestrator{client: client, cfg: cfg}
}

func (o *ECSOrchestrator) Submit(ctx context.Context, spec domain.JobSpec) (domain.JobHandle, error) {
	publicIP := types.AssignPublicIpDisabled
	if o.cfg.AssignPublicIP {
		publicIP = types.AssignPublicIpEnabled
	}

	input := &ecs.RunTaskInput{
		Cluster:        aws.String(o.cfg.Cluster),
		TaskDefinition: aws.String(o.cfg.TaskDefinition),
		LaunchType:     types.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        o.cfg.Subnets,
				SecurityGroups: o.cfg.SecurityGroups,
				AssignPublicIp: publicIP,
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{{
				Name: aws.String(o.cfg.ContainerName),
				Environment: []types.KeyValuePair{
					{Name: aws.String(envCode), Value: aws.String(spec.Code)},
					{Name: aws.String(envLanguage), Value: aws.String(spec.Language)},
				},
			}},
		},
	}
	if startedBy := startedByTag(spec.OwnerID); startedBy != "" {
		input.StartedBy = aws.String(startedBy)
	}

	out, err := o.client.RunTask(ctx, input)
	if err != nil {
		return "", fmt.Errorf("run task: %w", err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return "", fmt.Errorf("run task: %s (%s)", aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	if len(out.Tasks) == 0 || aws.ToString(out.Tasks[0].TaskArn) == "" {
		return "", ErrNoTask
	}

	return domain.JobHandle(aws.ToString(out.Tasks[0].TaskArn)), nil
}

// startedByTag keeps the owner id within the ECS startedBy limits.
func startedByTag(ownerID string) string {
	tag := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, ownerID)
	if len(tag) > maxStartedByLength {
		tag = tag[:maxStartedByLength]
	}
	return tag
}

var _ Orchestrator = (*ECSOrchestrator)(nil)
