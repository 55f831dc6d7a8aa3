package saga

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/relay"
)

// RequestProcessor starts the spoke workflow for a hub create request. The
// request only points at the payload; the full task is fetched through the
// signed reference.
type RequestProcessor struct {
	s *Service
}

func (s *Service) RequestProcessor() *RequestProcessor {
	return &RequestProcessor{s: s}
}

func (p *RequestProcessor) Matches(source, detailType string) bool {
	return source == relay.HubDataAssetSource && detailType == relay.HubCreateRequestDetailType
}

func (p *RequestProcessor) Complete(ctx context.Context, ev events.CloudWatchEvent) error {
	if p.s.sfn == nil || p.s.cfg.StateMachineArn == "" {
		return errors.New("spoke state machine is not configured")
	}
	var req domain.CreateRequest
	if err := decodeDetail(ev, &req); err != nil {
		return err
	}
	task, err := p.s.fetcher.Fetch(ctx, req.FullPayloadSignedURL)
	if err != nil {
		return err
	}
	if err := task.DataAsset.Validate(); err != nil {
		return fmt.Errorf("invalid create request %s: %w", req.ID, err)
	}
	input, err := json.Marshal(domain.DataAssetTask{DataAsset: task.DataAsset})
	if err != nil {
		return fmt.Errorf("encode execution input: %w", err)
	}
	id := task.DataAsset.ContextID()
	var hubExecution string
	if e := task.DataAsset.Execution; e != nil {
		hubExecution = e.HubExecutionID
	}
	name := executionName(id, hubExecution)
	out, err := p.s.sfn.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(p.s.cfg.StateMachineArn),
		Name:            aws.String(name),
		Input:           aws.String(string(input)),
	})
	var exists *sfntypes.ExecutionAlreadyExists
	switch {
	case errors.As(err, &exists):
		p.s.logger.Info("spoke execution already started", "id", id, "execution", name)
		return nil
	case err != nil:
		return fmt.Errorf("start spoke execution: %w", err)
	}
	p.s.logger.Info("spoke execution started", "id", id, "execution_arn", aws.ToString(out.ExecutionArn))
	return nil
}

var executionNameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// executionName is stable for one hub execution, so a redelivered request
// lands on the execution the first delivery started. It stays inside the 80
// character limit.
func executionName(id, hubExecution string) string {
	id = executionNameUnsafe.ReplaceAllString(id, "-")
	if hubExecution == "" {
		if len(id) > 80 {
			id = id[:80]
		}
		return id
	}
	if len(id) > 67 {
		id = id[:67]
	}
	sum := sha256.Sum256([]byte(hubExecution))
	return id + "-" + hex.EncodeToString(sum[:6])
}
