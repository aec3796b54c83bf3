package remote

import "encoding/json"

// API codes returned in the "code" field of every response envelope.
const (
	CodeSuccess    = 0
	CodeProcessing = 804
)

const (
	createPath  = "/task/openapi/create"
	outputsPath = "/task/openapi/outputs"

	instanceType     = "plus"
	usePersonalQueue = "true"
)

// NodeFieldOverride replaces one input field of one workflow node for a single run.
type NodeFieldOverride struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

// Output is one result descriptor as returned by the outputs endpoint.
type Output map[string]any

// outputURLAliases lists, in priority order, the fields that may carry the result URL.
var outputURLAliases = []string{"fileUrl", "imageUrl", "url", "image_url"}

type createRequest struct {
	APIKey           string              `json:"apiKey"`
	WorkflowID       string              `json:"workflowId"`
	NodeInfoList     []NodeFieldOverride `json:"nodeInfoList"`
	AddMetadata      bool                `json:"addMetadata"`
	InstanceType     string              `json:"instanceType"`
	UsePersonalQueue string              `json:"usePersonalQueue"`
}

type outputsRequest struct {
	APIKey string `json:"apiKey"`
	TaskID string `json:"taskId"`
}

type envelope struct {
	Code *int            `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data"`

	raw []byte
}

type createData struct {
	TaskID any `json:"taskId"`
	ID     any `json:"id"`
}

type outputsData struct {
	Outputs []Output `json:"outputs"`
}
