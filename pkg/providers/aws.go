package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/ogulcanaydogan/billsync/pkg/breakdown"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/retry"
)

// SourceAWSCostExplorer tags snapshots produced by the AWS connector.
const SourceAWSCostExplorer = "aws-cost-explorer"

const (
	awsMetric    = "UnblendedCost"
	awsMaxPages  = 50
	awsNoService = "NoService"
)

// CostExplorerAPI is the subset of the Cost Explorer client the connector uses.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, in *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// AWSCredentials select how the Cost Explorer client authenticates. Static
// keys win; otherwise Profile names a shared-config profile; otherwise the
// default chain applies.
type AWSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	Region          string
}

// CostExplorerFactory builds a client for one pull.
type CostExplorerFactory func(ctx context.Context, creds AWSCredentials) (CostExplorerAPI, error)

// AWS pulls monthly unblended cost grouped by service and usage type.
type AWS struct {
	cfg     AWSConfig
	factory CostExplorerFactory
	deps    Deps
}

// NewAWS creates an AWS connector. A nil factory uses the SDK default config loader.
func NewAWS(cfg AWSConfig, factory CostExplorerFactory, deps Deps) *AWS {
	deps = deps.withDefaults()
	if cfg.Region == "" {
		cfg.Region = DefaultConfig().AWS.Region
	}
	a := &AWS{cfg: cfg, factory: factory, deps: deps}
	if a.factory == nil {
		a.factory = a.newCostExplorer
	}
	return a
}

// Provider implements Connector.
func (a *AWS) Provider() model.Provider { return model.ProviderAWS }

func (a *AWS) newCostExplorer(ctx context.Context, c AWSCredentials) (CostExplorerAPI, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(c.Region),
		config.WithHTTPClient(a.deps.HTTPClient),
	}
	switch {
	case c.AccessKeyID != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)))
	case c.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return costexplorer.NewFromConfig(cfg), nil
}

func (a *AWS) credentials(creds model.Credentials) (AWSCredentials, error) {
	c := AWSCredentials{
		AccessKeyID:     creds.Get("accessKeyId", "access_key_id", "aws_access_key_id"),
		SecretAccessKey: creds.Get("secretAccessKey", "secret_access_key", "aws_secret_access_key"),
		SessionToken:    creds.Get("sessionToken", "session_token", "aws_session_token"),
		Profile:         creds.Get("profile", "awsProfile", "aws_profile"),
		Region:          firstNonEmpty(creds.Get("region"), a.cfg.Region),
	}
	if c.AccessKeyID != "" && c.SecretAccessKey == "" {
		return c, missing(model.ProviderAWS, "secretAccessKey")
	}
	return c, nil
}

// Pull implements Connector.
func (a *AWS) Pull(ctx context.Context, vendor model.Vendor, creds model.Credentials, period model.BillingPeriod) (*model.PulledBilling, error) {
	c, err := a.credentials(creds)
	if err != nil {
		return nil, err
	}
	client, err := a.factory(ctx, c)
	if err != nil {
		return nil, err
	}

	in := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(period.StartDate()),
			End:   aws.String(period.EndExclusiveDate()),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{awsMetric},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("USAGE_TYPE")},
		},
	}

	var (
		rows    []model.BreakdownRow
		results []cetypes.ResultByTime
		pages   int
	)
	for {
		out, err := client.GetCostAndUsage(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("aws GetCostAndUsage: %w", classifyAWSError(err))
		}
		pages++
		results = append(results, out.ResultsByTime...)
		for _, r := range out.ResultsByTime {
			rows = append(rows, awsRows(r)...)
		}
		if out.NextPageToken == nil || *out.NextPageToken == "" || pages >= awsMaxPages {
			break
		}
		in.NextPageToken = out.NextPageToken
	}

	summarized := breakdown.Summarize(rows)
	raw, err := json.Marshal(map[string]any{
		"accountId":     vendor.AccountID,
		"resultsByTime": results,
		"pages":         pages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal aws raw payload: %w", err)
	}

	return &model.PulledBilling{
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Amount:      breakdown.Total(summarized),
		Currency:    breakdown.DominantCurrency(summarized, breakdown.DefaultCurrency),
		Source:      SourceAWSCostExplorer,
		Breakdown:   summarized,
		Raw:         raw,
	}, nil
}

// awsRows turns one time bucket into breakdown rows keyed by service. A
// bucket without groups contributes its total.
func awsRows(r cetypes.ResultByTime) []model.BreakdownRow {
	var rows []model.BreakdownRow
	for _, g := range r.Groups {
		m, ok := g.Metrics[awsMetric]
		if !ok {
			continue
		}
		row, ok := awsMetricRow(m)
		if !ok {
			continue
		}
		service := awsNoService
		if len(g.Keys) > 0 {
			service = g.Keys[0]
		}
		row.ResourceType = breakdown.NormalizeResourceType(service)
		rows = append(rows, row)
	}
	if len(r.Groups) == 0 {
		if m, ok := r.Total[awsMetric]; ok {
			if row, ok := awsMetricRow(m); ok {
				row.ResourceType = breakdown.Uncategorized
				rows = append(rows, row)
			}
		}
	}
	return rows
}

func awsMetricRow(m cetypes.MetricValue) (model.BreakdownRow, bool) {
	amount, ok := asDecimal(aws.ToString(m.Amount))
	if !ok {
		return model.BreakdownRow{}, false
	}
	return model.BreakdownRow{
		Amount:   amount,
		Currency: breakdown.NormalizeCurrency(aws.ToString(m.Unit), breakdown.DefaultCurrency),
	}, true
}

// classifyAWSError marks client faults other than throttling as terminal.
func classifyAWSError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "LimitExceededException", "RequestLimitExceeded", "TooManyRequestsException":
		return err
	}
	if apiErr.ErrorFault() == smithy.FaultClient {
		return retry.Permanent(err)
	}
	return err
}
