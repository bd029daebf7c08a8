package models

// ContractInput describes one typed input field of a workflow API contract.
type ContractInput struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Type     string `json:"type" yaml:"type" validate:"required"`
	Required bool   `json:"required" yaml:"required"`
	NodeID   string `json:"node_id" yaml:"node_id" validate:"required"`
}

// ContractOutput describes one typed output field of a workflow API contract.
type ContractOutput struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Type   string `json:"type" yaml:"type" validate:"required"`
	NodeID string `json:"node_id" yaml:"node_id" validate:"required"`
}

// WorkflowContract is the exported API contract accompanying a workflow file.
// It lives next to the workflow as <workflow>.contract.json and must declare
// at least one input and one output.
type WorkflowContract struct {
	ContractID string           `json:"contract_id" yaml:"contract_id" validate:"required"`
	Version    string           `json:"version" yaml:"version" validate:"required"`
	Inputs     []ContractInput  `json:"inputs" yaml:"inputs" validate:"required,min=1,dive"`
	Outputs    []ContractOutput `json:"outputs" yaml:"outputs" validate:"required,min=1,dive"`
}
