// Package appspec loads and validates app specification files and their
// workflow contracts. A deployable app is a spec file (YAML or JSON) plus a
// workflow JSON and a contract export living next to the workflow as
// <workflow>.contract.json.
package appspec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/comfy-endpoints/comfy-endpoints/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError reports a spec or contract that failed structural checks.
type ValidationError struct {
	Path   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid spec %s: %s", e.Path, e.Detail)
}

func decodeStructured(path string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(content, out); err != nil {
			return &ValidationError{Path: path, Detail: err.Error()}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, out); err != nil {
			return &ValidationError{Path: path, Detail: err.Error()}
		}
	default:
		return &ValidationError{Path: path, Detail: "unsupported file extension, expected .yaml, .yml, or .json"}
	}
	return nil
}

func structuralErrors(path string, err error) error {
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		details := make([]string, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			details = append(details, fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag()))
		}
		return &ValidationError{Path: path, Detail: strings.Join(details, "; ")}
	}
	return &ValidationError{Path: path, Detail: err.Error()}
}

// Load parses and validates an app spec file. The workflow path is resolved
// relative to the spec file's directory.
func Load(path string) (*models.AppSpec, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	var spec models.AppSpec
	if err := decodeStructured(absPath, &spec); err != nil {
		return nil, err
	}
	if err := validate.Struct(&spec); err != nil {
		return nil, structuralErrors(absPath, err)
	}

	if !filepath.IsAbs(spec.WorkflowPath) {
		spec.WorkflowPath = filepath.Join(filepath.Dir(absPath), spec.WorkflowPath)
	}
	return &spec, nil
}

// ContractPath returns the expected contract file for a workflow, the
// workflow path with its extension replaced by .contract.json.
func ContractPath(workflowPath string) string {
	ext := filepath.Ext(workflowPath)
	return strings.TrimSuffix(workflowPath, ext) + ".contract.json"
}

// LoadContract parses and validates a workflow contract file.
func LoadContract(path string) (*models.WorkflowContract, error) {
	var contract models.WorkflowContract
	if err := decodeStructured(path, &contract); err != nil {
		return nil, err
	}
	if err := validate.Struct(&contract); err != nil {
		return nil, structuralErrors(path, err)
	}
	return &contract, nil
}

// LoadDeployable loads a spec and everything a deploy needs around it: the
// workflow file must exist and its contract export must parse. This is the
// pre-deploy validation gate; deploys never start from a spec that fails it.
func LoadDeployable(specPath string) (*models.AppSpec, *models.WorkflowContract, error) {
	spec, err := Load(specPath)
	if err != nil {
		return nil, nil, err
	}

	if _, err := os.Stat(spec.WorkflowPath); err != nil {
		return nil, nil, &ValidationError{
			Path:   specPath,
			Detail: fmt.Sprintf("workflow file not found: %s", spec.WorkflowPath),
		}
	}

	contractPath := ContractPath(spec.WorkflowPath)
	if _, err := os.Stat(contractPath); err != nil {
		return nil, nil, &ValidationError{
			Path:   specPath,
			Detail: fmt.Sprintf("missing workflow contract export, expected file next to workflow: %s", contractPath),
		}
	}

	contract, err := LoadContract(contractPath)
	if err != nil {
		return nil, nil, err
	}
	return spec, contract, nil
}
