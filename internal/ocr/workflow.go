package ocr

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/commissionflow/docintake/internal/document"
)

// WorkflowTrigger starts extraction through a Cloud Workflows
// orchestration instead of a direct function invocation. Used for GCP
// deployments where the pipeline steps are sequenced by Workflows.
type WorkflowTrigger struct {
	client     *executions.Client
	projectID  string
	location   string
	workflowID string
	bucket     string
}

// NewWorkflowTrigger creates a trigger for the given workflow.
func NewWorkflowTrigger(ctx context.Context, projectID, location, workflowID, bucket string) (*WorkflowTrigger, error) {
	if projectID == "" || workflowID == "" {
		return nil, fmt.Errorf("projectID and workflowID must be provided to create a workflow trigger")
	}
	if location == "" {
		location = "us-central1"
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowTrigger{
		client:     client,
		projectID:  projectID,
		location:   location,
		workflowID: workflowID,
		bucket:     bucket,
	}, nil
}

func (t *WorkflowTrigger) Start(ctx context.Context, doc document.Document) (string, string, error) {
	payload := map[string]interface{}{
		"documentId": doc.ID,
		"bucket":     t.bucket,
		"key":        doc.StorageKey,
		"pageCount":  doc.PageCount,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}

	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", t.projectID, t.location, t.workflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := t.client.CreateExecution(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return "", exec.GetName(), nil
}

func (t *WorkflowTrigger) Close() error {
	return t.client.Close()
}
