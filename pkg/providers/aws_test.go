package providers_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/providers"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCostExplorer struct {
	inputs  []costexplorer.GetCostAndUsageInput
	outputs []*costexplorer.GetCostAndUsageOutput
	err     error
}

func (f *fakeCostExplorer) GetCostAndUsage(_ context.Context, in *costexplorer.GetCostAndUsageInput, _ ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	f.inputs = append(f.inputs, *in)
	if f.err != nil {
		return nil, f.err
	}
	out := f.outputs[0]
	f.outputs = f.outputs[1:]
	return out, nil
}

func group(service, usageType, amount string) cetypes.Group {
	return cetypes.Group{
		Keys: []string{service, usageType},
		Metrics: map[string]cetypes.MetricValue{
			"UnblendedCost": {Amount: aws.String(amount), Unit: aws.String("USD")},
		},
	}
}

func newTestAWS(fake *fakeCostExplorer, seen *providers.AWSCredentials) *providers.AWS {
	return providers.NewAWS(providers.AWSConfig{Region: "us-east-1"}, func(_ context.Context, c providers.AWSCredentials) (providers.CostExplorerAPI, error) {
		if seen != nil {
			*seen = c
		}
		return fake, nil
	}, providers.Deps{})
}

func TestAWS_PullGroupsByServiceAndPages(t *testing.T) {
	fake := &fakeCostExplorer{outputs: []*costexplorer.GetCostAndUsageOutput{
		{
			ResultsByTime: []cetypes.ResultByTime{{Groups: []cetypes.Group{
				group("Amazon Elastic Compute Cloud - Compute", "BoxUsage:t3.micro", "10.25"),
				group("Amazon Simple Storage Service", "TimedStorage-ByteHrs", "1.10"),
			}}},
			NextPageToken: aws.String("next"),
		},
		{
			ResultsByTime: []cetypes.ResultByTime{{Groups: []cetypes.Group{
				group("Amazon Elastic Compute Cloud - Compute", "BoxUsage:t3.large", "4.75"),
				group("Tax", "Tax", "0"),
			}}},
		},
	}}
	a := newTestAWS(fake, nil)

	b, err := a.Pull(context.Background(), model.Vendor{ID: "v-aws", AccountID: "123"},
		model.Credentials{"accessKeyId": "AKIA", "secretAccessKey": "s"}, august(t))
	require.NoError(t, err)

	require.Len(t, fake.inputs, 2)
	assert.Equal(t, "2026-08-01", aws.ToString(fake.inputs[0].TimePeriod.Start))
	assert.Equal(t, "2026-09-01", aws.ToString(fake.inputs[0].TimePeriod.End))
	assert.Equal(t, cetypes.GranularityMonthly, fake.inputs[0].Granularity)
	assert.Equal(t, []string{"UnblendedCost"}, fake.inputs[0].Metrics)
	assert.Nil(t, fake.inputs[0].NextPageToken)
	assert.Equal(t, "next", aws.ToString(fake.inputs[1].NextPageToken))

	assert.Equal(t, providers.SourceAWSCostExplorer, b.Source)
	assert.Equal(t, "16.1", b.Amount.String())
	require.Len(t, b.Breakdown, 2)
	assert.Equal(t, "Amazon Elastic Compute Cloud - Compute", b.Breakdown[0].ResourceType)
	assert.Equal(t, "15", b.Breakdown[0].Amount.String())
}

func TestAWS_ProfilePassedExplicitly(t *testing.T) {
	fake := &fakeCostExplorer{outputs: []*costexplorer.GetCostAndUsageOutput{{}}}
	var seen providers.AWSCredentials
	a := newTestAWS(fake, &seen)

	_, err := a.Pull(context.Background(), model.Vendor{ID: "v"}, model.Credentials{"profile": "billing", "region": "eu-west-1"}, august(t))
	require.NoError(t, err)
	assert.Equal(t, "billing", seen.Profile)
	assert.Equal(t, "eu-west-1", seen.Region)
	assert.Empty(t, seen.AccessKeyID)
}

func TestAWS_NoKeysUsesDefaultChain(t *testing.T) {
	fake := &fakeCostExplorer{outputs: []*costexplorer.GetCostAndUsageOutput{{}}}
	var seen providers.AWSCredentials
	a := newTestAWS(fake, &seen)

	_, err := a.Pull(context.Background(), model.Vendor{ID: "v"}, model.Credentials{}, august(t))
	require.NoError(t, err)
	assert.Empty(t, seen.AccessKeyID)
	assert.Empty(t, seen.Profile)
	assert.Equal(t, "us-east-1", seen.Region)
	assert.Len(t, fake.inputs, 1)
}

func TestAWS_MissingCredentials(t *testing.T) {
	a := newTestAWS(&fakeCostExplorer{}, nil)

	_, err := a.Pull(context.Background(), model.Vendor{ID: "v"}, model.Credentials{"accessKeyId": "AKIA"}, august(t))
	assert.ErrorIs(t, err, model.ErrMissingCredentials)
}

func TestAWS_ErrorClassification(t *testing.T) {
	creds := model.Credentials{"accessKeyId": "AKIA", "secretAccessKey": "s"}

	denied := &fakeCostExplorer{err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied", Fault: smithy.FaultClient}}
	_, err := newTestAWS(denied, nil).Pull(context.Background(), model.Vendor{ID: "v"}, creds, august(t))
	require.Error(t, err)
	assert.False(t, retry.Retryable(err))

	throttled := &fakeCostExplorer{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded", Fault: smithy.FaultClient}}
	_, err = newTestAWS(throttled, nil).Pull(context.Background(), model.Vendor{ID: "v"}, creds, august(t))
	require.Error(t, err)
	assert.True(t, retry.Retryable(err))
}
