// Package coordinator resumes workflow steps that are parked on a callback token.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
)

// ErrAlreadySignaled is returned when a token has already received its one signal.
var ErrAlreadySignaled = errors.New("callback token already signaled")

// Signaler sends the single success or failure signal a callback token allows.
type Signaler interface {
	Success(ctx context.Context, token string, output any) error
	Failure(ctx context.Context, token, errorName, cause string) error
}

type SFNAPI interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// SFN signals Step Functions task tokens.
type SFN struct {
	client SFNAPI
}

func NewSFN(client SFNAPI) *SFN {
	if client == nil {
		return nil
	}
	return &SFN{client: client}
}

func (s *SFN) Success(ctx context.Context, token string, output any) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("sfn signaler not initialized")
	}
	if token == "" {
		return errors.New("task token is required")
	}
	body, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode task output: %w", err)
	}
	_, err = s.client.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(token),
		Output:    aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send task success: %w", err)
	}
	return nil
}

const (
	maxErrorLen = 256
	maxCauseLen = 32768
)

func (s *SFN) Failure(ctx context.Context, token, errorName, cause string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("sfn signaler not initialized")
	}
	if token == "" {
		return errors.New("task token is required")
	}
	_, err := s.client.SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
		TaskToken: aws.String(token),
		Error:     aws.String(truncate(errorName, maxErrorLen)),
		Cause:     aws.String(truncate(cause, maxCauseLen)),
	})
	if err != nil {
		return fmt.Errorf("send task failure: %w", err)
	}
	return nil
}

// IsTimeout reports whether the coordinator had already given up on the token.
func IsTimeout(err error) bool {
	var timedOut *sfntypes.TaskTimedOut
	if errors.As(err, &timedOut) {
		return true
	}
	var gone *sfntypes.TaskDoesNotExist
	return errors.As(err, &gone)
}

// Ignorable reports signal errors that are logged and dropped: the step has
// either moved on without us or already received its signal.
func Ignorable(err error) bool {
	return IsTimeout(err) || errors.Is(err, ErrAlreadySignaled)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
