package ngsild

import (
	"encoding/json"
)

type CreateEntityResult struct {
	location string
}

func NewCreateEntityResult(location string) *CreateEntityResult {
	return &CreateEntityResult{
		location: location,
	}
}

func (r CreateEntityResult) Location() string {
	return r.location
}

type UpdateOperationResult string

const (
	Appended UpdateOperationResult = "APPENDED"
	Replaced UpdateOperationResult = "REPLACED"
	Updated  UpdateOperationResult = "UPDATED"
)

type UpdatedDetails struct {
	AttributeName string                `json:"attributeName"`
	DatasetID     *string               `json:"datasetId,omitempty"`
	Result        UpdateOperationResult `json:"updateOperationResult"`
}

type NotUpdatedDetails struct {
	AttributeName string `json:"attributeName"`
	Reason        string `json:"reason"`
}

// UpdateResult reports the outcome of a batch attribute mutation per attribute
// instance. Instances that could not be written are data, not errors.
type UpdateResult struct {
	Updated    []UpdatedDetails    `json:"updated"`
	NotUpdated []NotUpdatedDetails `json:"notUpdated"`
}

func NewUpdateResult() *UpdateResult {
	return &UpdateResult{
		Updated:    []UpdatedDetails{},
		NotUpdated: []NotUpdatedDetails{},
	}
}

func (ur *UpdateResult) AddUpdated(name string, datasetID *string, result UpdateOperationResult) {
	ur.Updated = append(ur.Updated, UpdatedDetails{AttributeName: name, DatasetID: datasetID, Result: result})
}

func (ur *UpdateResult) AddNotUpdated(name, reason string) {
	ur.NotUpdated = append(ur.NotUpdated, NotUpdatedDetails{AttributeName: name, Reason: reason})
}

func (ur *UpdateResult) Merge(other *UpdateResult) {
	if other == nil {
		return
	}
	ur.Updated = append(ur.Updated, other.Updated...)
	ur.NotUpdated = append(ur.NotUpdated, other.NotUpdated...)
}

func (ur *UpdateResult) IsSuccessful() bool {
	return len(ur.NotUpdated) == 0
}

// ToResponse converts the result into the wire format of the NGSI-LD API,
// compacting attribute names with the supplied function
func (ur *UpdateResult) ToResponse(compact func(string) string) *UpdateEntityAttributesResult {
	resp := &UpdateEntityAttributesResult{
		Updated: []string{},
		NotUpdated: []struct {
			AttributeName string `json:"attributeName"`
			Reason        string `json:"reason"`
		}{},
	}

	for _, u := range ur.Updated {
		resp.Updated = append(resp.Updated, compact(u.AttributeName))
	}

	for _, nu := range ur.NotUpdated {
		resp.NotUpdated = append(resp.NotUpdated, struct {
			AttributeName string `json:"attributeName"`
			Reason        string `json:"reason"`
		}{compact(nu.AttributeName), nu.Reason})
	}

	return resp
}

type UpdateEntityAttributesResult struct {
	Updated    []string `json:"updated"`
	NotUpdated []struct {
		AttributeName string `json:"attributeName"`
		Reason        string `json:"reason"`
	} `json:"notUpdated"`
}

func (uear *UpdateEntityAttributesResult) Bytes() []byte {
	b, _ := json.Marshal(uear)
	return b
}

func (uear *UpdateEntityAttributesResult) IsMultiStatus() bool {
	return len(uear.NotUpdated) > 0
}

func NewUpdateEntityAttributesResult(body []byte) (*UpdateEntityAttributesResult, error) {
	uear := &UpdateEntityAttributesResult{}
	if len(body) > 0 {
		err := json.Unmarshal(body, uear)
		if err != nil {
			return nil, err
		}
	}
	return uear, nil
}
