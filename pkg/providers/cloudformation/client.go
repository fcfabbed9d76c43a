// Package cloudformation implements the external resource manager on AWS
// CloudFormation stacks.
package cloudformation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/codepool/codepool/pkg/engine"
	"github.com/codepool/codepool/pkg/telemetry"
)

// API is the subset of the CloudFormation client used by Client.
type API interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// NewAPIClient builds a CloudFormation client from an AWS config. A
// non-empty endpoint overrides the resolved one.
func NewAPIClient(cfg aws.Config, endpoint string) *cloudformation.Client {
	return cloudformation.NewFromConfig(cfg, func(o *cloudformation.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Config carries provider-level stack settings.
type Config struct {
	// Capabilities are passed through to stack creation (e.g. CAPABILITY_IAM).
	Capabilities []string

	// RoleARN, when set, is the service role CloudFormation assumes.
	RoleARN string
}

// Client implements engine.ResourceClient on CloudFormation stacks.
type Client struct {
	api    API
	cfg    Config
	logger *telemetry.Logger
}

// New creates a CloudFormation-backed resource client.
func New(api API, cfg Config, tel *telemetry.Telemetry) *Client {
	logger := telemetry.NopLogger()
	if tel != nil && tel.Logger != nil {
		logger = tel.Logger.NewComponentLogger("cloudformation")
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

// Create provisions a stack and returns its stack id. Failed creations
// roll back and delete so the name is reusable.
func (c *Client) Create(ctx context.Context, input engine.CreateResourceInput) (string, error) {
	in := &cloudformation.CreateStackInput{
		StackName: aws.String(input.Name),
		OnFailure: cfntypes.OnFailureDelete,
	}

	if isTemplateURL(input.TemplateRef) {
		in.TemplateURL = aws.String(input.TemplateRef)
	} else {
		body, err := os.ReadFile(input.TemplateRef)
		if err != nil {
			return "", engine.NewPermanentError("failed to read template", err).
				WithCode(engine.ErrCodeExternalValidation).WithOperation("create")
		}
		in.TemplateBody = aws.String(string(body))
	}

	for key, value := range input.Parameters {
		in.Parameters = append(in.Parameters, cfntypes.Parameter{
			ParameterKey:   aws.String(key),
			ParameterValue: aws.String(value),
		})
	}
	for key, value := range input.Tags {
		in.Tags = append(in.Tags, cfntypes.Tag{
			Key:   aws.String(key),
			Value: aws.String(value),
		})
	}
	for _, capability := range c.cfg.Capabilities {
		in.Capabilities = append(in.Capabilities, cfntypes.Capability(capability))
	}
	if c.cfg.RoleARN != "" {
		in.RoleARN = aws.String(c.cfg.RoleARN)
	}

	out, err := c.api.CreateStack(ctx, in)
	if err != nil {
		return "", c.classify("create", input.Name, err)
	}

	c.logger.WithResourceName(input.Name).
		WithField("stack_id", aws.ToString(out.StackId)).
		Info("stack creation initiated")
	return aws.ToString(out.StackId), nil
}

// Describe returns the externally observed state of a stack.
func (c *Client) Describe(ctx context.Context, name string) (*engine.ResourceDescription, error) {
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(name),
	})
	if err != nil {
		return nil, c.classify("describe", name, err)
	}
	if len(out.Stacks) == 0 {
		return nil, notFoundError(name)
	}

	return describeStack(&out.Stacks[0]), nil
}

func describeStack(stack *cfntypes.Stack) *engine.ResourceDescription {
	desc := &engine.ResourceDescription{
		Name:   aws.ToString(stack.StackName),
		Ref:    aws.ToString(stack.StackId),
		Status: codeStatus(stack.StackStatus),
		Tags:   tagMap(stack.Tags),
	}
	for _, o := range stack.Outputs {
		desc.Outputs = append(desc.Outputs, engine.Output{
			Key:         aws.ToString(o.OutputKey),
			Value:       aws.ToString(o.OutputValue),
			Description: aws.ToString(o.Description),
		})
	}
	return desc
}

// Delete requests stack deletion. Deleting a stack that is already gone
// succeeds.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(name),
	})
	if err != nil {
		classified := c.classify("delete", name, err)
		if engine.HasCode(classified, engine.ErrCodeResourceNotFound) {
			return nil
		}
		return classified
	}

	c.logger.WithResourceName(name).Info("stack deletion initiated")
	return nil
}

// ListByStatus returns summaries of stacks managed by this engine in the
// given states. An empty filter lists all managed stacks.
func (c *Client) ListByStatus(ctx context.Context, statuses []engine.CodeStatus) ([]engine.ResourceSummary, error) {
	want := make(map[engine.CodeStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var summaries []engine.ResourceSummary
	var next *string

	for {
		out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
			NextToken: next,
		})
		if err != nil {
			return nil, c.classify("list", "", err)
		}

		for i := range out.Stacks {
			stack := &out.Stacks[i]
			tags := tagMap(stack.Tags)
			if tags[engine.TagManagedBy] != engine.ManagedByValue {
				continue
			}
			status := codeStatus(stack.StackStatus)
			if len(want) > 0 && !want[status] {
				continue
			}
			summaries = append(summaries, engine.ResourceSummary{
				Name:   aws.ToString(stack.StackName),
				Ref:    aws.ToString(stack.StackId),
				Status: status,
				Tags:   tags,
			})
		}

		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}

	return summaries, nil
}

func tagMap(tags []cfntypes.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

func isTemplateURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") ||
		strings.HasPrefix(ref, "https://") ||
		strings.HasPrefix(ref, "s3://")
}

func notFoundError(name string) *engine.EngineError {
	return engine.NewPermanentError(fmt.Sprintf("stack %s does not exist", name), nil).
		WithCode(engine.ErrCodeResourceNotFound)
}

// classify maps a CloudFormation error onto the engine's error taxonomy.
// A ValidationError naming a missing stack becomes RESOURCE_NOT_FOUND so
// callers can tell deletion completion apart from real failures.
func (c *Client) classify(operation, name string, err error) *engine.EngineError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist"):
			return notFoundError(name).WithOperation(operation)
		case code == "Throttling" || code == "ThrottlingException" || code == "LimitExceededException":
			return engine.NewThrottledError("resource manager throttled", err).
				WithCode(engine.ErrCodeExternalThrottled).WithOperation(operation)
		case code == "AccessDenied" || code == "AccessDeniedException":
			return engine.NewPermanentError("resource manager access denied", err).
				WithCode(engine.ErrCodeExternalDenied).WithOperation(operation)
		case code == "AlreadyExistsException":
			return engine.NewConflictError(fmt.Sprintf("stack %s already exists", name), err).
				WithCode(engine.ErrCodeAlreadyInProgress).WithOperation(operation)
		case code == "ValidationError", code == "InsufficientCapabilitiesException":
			return engine.NewPermanentError("resource manager rejected the request", err).
				WithCode(engine.ErrCodeExternalValidation).WithOperation(operation)
		}
	}
	return engine.NewTransientError("resource manager request failed", err).
		WithCode(engine.ErrCodeExternalDown).WithOperation(operation)
}
