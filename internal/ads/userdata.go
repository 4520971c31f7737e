package ads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrMissingJobType is returned when a job target sets no job type.
var ErrMissingJobType = errors.New("job_type is required")

// DefaultMembershipLifeSpan is the membership life span in days for created lists.
const DefaultMembershipLifeSpan = 10000

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []struct {
		UserList struct {
			ResourceName string `json:"resourceName"`
		} `json:"userList"`
	} `json:"results"`
}

type mutateUserListsRequest struct {
	Operations []userListOperation `json:"operations"`
}

type userListOperation struct {
	Create userList `json:"create"`
}

type userList struct {
	Name               string           `json:"name"`
	Description        string           `json:"description,omitempty"`
	MembershipLifeSpan int              `json:"membershipLifeSpan"`
	CrmBasedUserList   crmBasedUserList `json:"crmBasedUserList"`
}

type crmBasedUserList struct {
	UploadKeyType string `json:"uploadKeyType"`
}

type mutateResponse struct {
	Results []struct {
		ResourceName string `json:"resourceName"`
	} `json:"results"`
}

var gaqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// gaqlString quotes s as a GAQL string literal.
func gaqlString(s string) string {
	return "'" + gaqlEscaper.Replace(s) + "'"
}

// CreateOrGetUserList returns the user list named by the target. A list_id
// wins; otherwise a list called list_name is looked up and created if absent.
func (c *Client) CreateOrGetUserList(ctx context.Context, target Target) (string, error) {
	if res := target.UserListResource(); res != "" {
		return res, nil
	}
	if target.ListName == "" {
		return "", errors.New("list_id or list_name is required for a customer match upload")
	}

	query := "SELECT user_list.resource_name FROM user_list WHERE user_list.name = " +
		gaqlString(target.ListName)
	var found searchResponse
	if err := c.post(ctx, "searchUserLists", target,
		fmt.Sprintf("customers/%s/googleAds:search", target.CustomerID),
		searchRequest{Query: query}, &found); err != nil {
		return "", err
	}
	if len(found.Results) > 0 && found.Results[0].UserList.ResourceName != "" {
		c.log.Info("using existing user list", "list", found.Results[0].UserList.ResourceName)
		return found.Results[0].UserList.ResourceName, nil
	}

	var created mutateResponse
	req := mutateUserListsRequest{Operations: []userListOperation{{
		Create: userList{
			Name:               target.ListName,
			MembershipLifeSpan: DefaultMembershipLifeSpan,
			CrmBasedUserList:   crmBasedUserList{UploadKeyType: target.UploadKeyType},
		},
	}}}
	if err := c.post(ctx, "createUserList", target,
		fmt.Sprintf("customers/%s/userLists:mutate", target.CustomerID), req, &created); err != nil {
		return "", err
	}
	if len(created.Results) == 0 || created.Results[0].ResourceName == "" {
		return "", errors.New("createUserList: response has no resource name")
	}

	c.log.Info("created user list", "list", created.Results[0].ResourceName)
	return created.Results[0].ResourceName, nil
}

type createJobRequest struct {
	Job offlineUserDataJob `json:"job"`
}

type offlineUserDataJob struct {
	Type                          string                 `json:"type"`
	CustomerMatchUserListMetadata *customerMatchMetadata `json:"customerMatchUserListMetadata,omitempty"`
}

type customerMatchMetadata struct {
	UserList string `json:"userList"`
}

type createJobResponse struct {
	ResourceName string `json:"resourceName"`
}

// CreateJob creates an offline user data job and returns its resource name.
func (c *Client) CreateJob(ctx context.Context, target Target) (string, error) {
	if target.JobType == "" {
		return "", ErrMissingJobType
	}

	job := offlineUserDataJob{Type: target.JobType}
	if target.JobType == JobTypeCustomerMatch {
		list := target.UserListResource()
		if list == "" {
			return "", errors.New("customer match job needs a user list")
		}
		job.CustomerMatchUserListMetadata = &customerMatchMetadata{UserList: list}
	}

	var resp createJobResponse
	if err := c.post(ctx, "createOfflineUserDataJob", target,
		fmt.Sprintf("customers/%s/offlineUserDataJobs:create", target.CustomerID),
		createJobRequest{Job: job}, &resp); err != nil {
		return "", err
	}
	if resp.ResourceName == "" {
		return "", errors.New("createOfflineUserDataJob: response has no resource name")
	}
	return resp.ResourceName, nil
}

type addOperationsRequest struct {
	EnablePartialFailure bool                `json:"enablePartialFailure"`
	Operations           []userDataOperation `json:"operations"`
}

type userDataOperation struct {
	Create json.RawMessage `json:"create,omitempty"`
	Remove json.RawMessage `json:"remove,omitempty"`
}

type addOperationsResponse struct {
	PartialFailureError json.RawMessage `json:"partialFailureError,omitempty"`
}

// AddOperations adds one batch of user data records to a job. Each record is
// a JSON UserData object, or a flat object of identifier fields such as
// {"hashedEmail": "..."} which is expanded into userIdentifiers.
func (c *Client) AddOperations(ctx context.Context, target Target, job string, records []string) error {
	const op = "addOfflineUserDataJobOperations"

	ops := make([]userDataOperation, 0, len(records))
	for i, rec := range records {
		data, err := UserData(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if target.Operation == OperationRemove {
			ops = append(ops, userDataOperation{Remove: data})
		} else {
			ops = append(ops, userDataOperation{Create: data})
		}
	}

	var resp addOperationsResponse
	if err := c.post(ctx, op, target, job+":addOperations",
		addOperationsRequest{EnablePartialFailure: true, Operations: ops}, &resp); err != nil {
		return err
	}
	return partialFailure(op, resp.PartialFailureError)
}

// RunJob starts processing of a job. The API runs it asynchronously.
func (c *Client) RunJob(ctx context.Context, target Target, job string) error {
	return c.post(ctx, "runOfflineUserDataJob", target, job+":run", struct{}{}, nil)
}

// UserData normalizes one record into a UserData JSON object.
func UserData(record string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(record), &obj); err != nil {
		return nil, fmt.Errorf("invalid user data record: %w", err)
	}
	if _, ok := obj["userIdentifiers"]; ok {
		return json.RawMessage(record), nil
	}
	if len(obj) == 0 {
		return nil, errors.New("user data record has no identifiers")
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	ids := make([]map[string]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, map[string]json.RawMessage{k: obj[k]})
	}
	return json.Marshal(map[string]any{"userIdentifiers": ids})
}
