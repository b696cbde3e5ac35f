// Package camundatest provides an in-memory worker.JobClient for handler tests.
package camundatest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"google.golang.org/grpc"
)

// JobClient records the complete, fail and throw-error commands a handler sends.
type JobClient struct {
	gateway *gateway
}

func NewJobClient() *JobClient {
	return &JobClient{gateway: &gateway{}}
}

func noRetry(context.Context, error) bool { return false }

func (c *JobClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	return commands.NewCompleteJobCommand(c.gateway, noRetry)
}

func (c *JobClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	return commands.NewFailJobCommand(c.gateway, noRetry)
}

func (c *JobClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	return commands.NewThrowErrorCommand(c.gateway, noRetry)
}

// FailCompleteWith makes every later CompleteJob call return err.
func (c *JobClient) FailCompleteWith(err error) {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	c.gateway.completeErr = err
}

// Completed returns the CompleteJob requests in the order they were sent.
func (c *JobClient) Completed() []*pb.CompleteJobRequest {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	return append([]*pb.CompleteJobRequest(nil), c.gateway.completed...)
}

func (c *JobClient) Failed() []*pb.FailJobRequest {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	return append([]*pb.FailJobRequest(nil), c.gateway.failed...)
}

func (c *JobClient) Thrown() []*pb.ThrowErrorRequest {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	return append([]*pb.ThrowErrorRequest(nil), c.gateway.thrown...)
}

// CompletedVariables decodes the variables of the only CompleteJob request.
func (c *JobClient) CompletedVariables() (map[string]interface{}, error) {
	completed := c.Completed()
	if len(completed) != 1 {
		return nil, nil
	}
	vars := map[string]interface{}{}
	if err := json.Unmarshal([]byte(completed[0].Variables), &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// gateway implements only the job RPCs; any other call panics on the nil embed.
type gateway struct {
	pb.GatewayClient

	mu          sync.Mutex
	completeErr error
	completed   []*pb.CompleteJobRequest
	failed      []*pb.FailJobRequest
	thrown      []*pb.ThrowErrorRequest
}

func (g *gateway) CompleteJob(ctx context.Context, in *pb.CompleteJobRequest, opts ...grpc.CallOption) (*pb.CompleteJobResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.completeErr != nil {
		return nil, g.completeErr
	}
	g.completed = append(g.completed, in)
	return &pb.CompleteJobResponse{}, nil
}

func (g *gateway) FailJob(ctx context.Context, in *pb.FailJobRequest, opts ...grpc.CallOption) (*pb.FailJobResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed = append(g.failed, in)
	return &pb.FailJobResponse{}, nil
}

func (g *gateway) ThrowError(ctx context.Context, in *pb.ThrowErrorRequest, opts ...grpc.CallOption) (*pb.ThrowErrorResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.thrown = append(g.thrown, in)
	return &pb.ThrowErrorResponse{}, nil
}

// NewJob builds an activated job carrying variables, in the shape the broker sends.
func NewJob(key int64, jobType string, retries int32, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               jobType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "portal-mail",
		ElementId:          "Activity_" + jobType,
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            retries,
		Variables:          string(variablesJSON),
	}}
}
