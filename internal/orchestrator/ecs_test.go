package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudjade-ide/internal/domain"
)

type fakeRunTask struct {
	input *ecs.RunTaskInput
	out   *ecs.RunTaskOutput
	err   error
}

func (f *fakeRunTask) RunTask(_ context.Context, in *ecs.RunTaskInput, _ ...func(*ecs.Options)) (*ecs.RunTaskOutput, error) {
	f.input = in
	return f.out, f.err
}

func testConfig() ECSConfig {
	return ECSConfig{
		Cluster:        "ide-cluster",
		TaskDefinition: "code-runner:3",
		Subnets:        []string{"subnet-1"},
		SecurityGroups: []string{"sg-1"},
		AssignPublicIP: true,
	}
}

func TestECSOrchestrator_Submit(t *testing.T) {
	fake := &fakeRunTask{out: &ecs.RunTaskOutput{
		Tasks: []types.Task{{TaskArn: aws.String("arn:aws:ecs:eu-west-1:1:task/ide-cluster/abc")}},
	}}
	o := NewECSOrchestrator(fake, testConfig())

	handle, err := o.Submit(context.Background(), domain.JobSpec{
		OwnerID:  "4a7c1f9e-0000-4000-8000-000000000001",
		Language: "python",
		Code:     "print('hi')",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobHandle("arn:aws:ecs:eu-west-1:1:task/ide-cluster/abc"), handle)

	in := fake.input
	require.NotNil(t, in)
	assert.Equal(t, "ide-cluster", aws.ToString(in.Cluster))
	assert.Equal(t, "code-runner:3", aws.ToString(in.TaskDefinition))
	assert.Equal(t, types.LaunchTypeFargate, in.LaunchType)
	assert.Equal(t, types.AssignPublicIpEnabled, in.NetworkConfiguration.AwsvpcConfiguration.AssignPublicIp)
	assert.Equal(t, []string{"subnet-1"}, in.NetworkConfiguration.AwsvpcConfiguration.Subnets)
	assert.Equal(t, "4a7c1f9e-0000-4000-8000-000000000001", aws.ToString(in.StartedBy))

	require.Len(t, in.Overrides.ContainerOverrides, 1)
	override := in.Overrides.ContainerOverrides[0]
	assert.Equal(t, "code-execution-container", aws.ToString(override.Name))
	env := map[string]string{}
	for _, kv := range override.Environment {
		env[aws.ToString(kv.Name)] = aws.ToString(kv.Value)
	}
	assert.Equal(t, map[string]string{"CODE": "print('hi')", "LANGUAGE": "python"}, env)
}

func TestECSOrchestrator_ReportedFailure(t *testing.T) {
	fake := &fakeRunTask{out: &ecs.RunTaskOutput{
		Failures: []types.Failure{{Reason: aws.String("RESOURCE:MEMORY")}},
	}}
	_, err := NewECSOrchestrator(fake, testConfig()).Submit(context.Background(), domain.JobSpec{Language: "java", Code: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE:MEMORY")
}

func TestECSOrchestrator_NoTask(t *testing.T) {
	fake := &fakeRunTask{out: &ecs.RunTaskOutput{}}
	_, err := NewECSOrchestrator(fake, testConfig()).Submit(context.Background(), domain.JobSpec{Language: "java", Code: "x"})
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestECSOrchestrator_ClientError(t *testing.T) {
	boom := errors.New("AccessDenied")
	fake := &fakeRunTask{err: boom}
	_, err := NewECSOrchestrator(fake, testConfig()).Submit(context.Background(), domain.JobSpec{Language: "java", Code: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestStartedByTag(t *testing.T) {
	assert.Equal(t, "abc-123", startedByTag("abc-123"))
	assert.Equal(t, "abc", startedByTag("a b;c"))
	assert.Len(t, startedByTag(strings.Repeat("a", 200)), maxStartedByLength)
	assert.Empty(t, startedByTag(""))
}
