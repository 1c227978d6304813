package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/tmc/langchaingo/llms"
)

// ErrAzureConfig is returned when endpoint, key or deployment is missing.
var ErrAzureConfig = errors.New("Azure OpenAI configuration missing: set AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY and AZURE_OPENAI_DEPLOYMENT_NAME")

// AzureConfig locates an Azure OpenAI deployment. Empty fields fall back to
// the AZURE_OPENAI_* environment variables.
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
}

func (c AzureConfig) withEnv() AzureConfig {
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
	}
	if c.Deployment == "" {
		c.Deployment = os.Getenv("AZURE_OPENAI_DEPLOYMENT_NAME")
	}
	return c
}

// AzureOpenAI adapts an Azure OpenAI chat deployment to llms.Model.
type AzureOpenAI struct {
	client         *azopenai.Client
	deploymentName string
	maxTokens      int32
}

var _ llms.Model = (*AzureOpenAI)(nil)

// NewAzureOpenAI creates a new Azure OpenAI model
func NewAzureOpenAI(cfg AzureConfig) (*AzureOpenAI, error) {
	cfg = cfg.withEnv()
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.Deployment == "" {
		return nil, ErrAzureConfig
	}

	keyCredential := azcore.NewKeyCredential(cfg.APIKey)
	client, err := azopenai.NewClientWithKeyCredential(cfg.Endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure OpenAI client: %w", err)
	}

	return &AzureOpenAI{
		client:         client,
		deploymentName: cfg.Deployment,
		maxTokens:      2000,
	}, nil
}

// GenerateContent sends the flattened text of messages as one user turn.
func (p *AzureOpenAI) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	maxTokens := p.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int32(opts.MaxTokens)
	}

	resp, err := p.client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		Messages: []azopenai.ChatRequestMessageClassification{
			&azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(FlattenMessages(messages)),
			},
		},
		MaxTokens:      to.Ptr(maxTokens),
		Temperature:    to.Ptr(float32(opts.Temperature)),
		DeploymentName: to.Ptr(p.deploymentName),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("Azure OpenAI completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return nil, fmt.Errorf("empty response from Azure OpenAI")
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: *resp.Choices[0].Message.Content}},
	}, nil
}

func (p *AzureOpenAI) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, p, prompt, options...)
}

// FlattenMessages joins the text parts of messages, one message per
// paragraph. Non-text parts are skipped.
func FlattenMessages(messages []llms.MessageContent) string {
	var sb strings.Builder
	for _, m := range messages {
		for _, part := range m.Parts {
			text, ok := part.(llms.TextContent)
			if !ok {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}
