package ads

import (
	"errors"
	"fmt"
	"strings"
)

// Target identifier keys accepted in UploadConfig.Target.
const (
	KeyCustomerID       = "customer_id"
	KeyLoginCustomerID  = "login_customer_id"
	KeyJobType          = "job_type"
	KeyListID           = "list_id"
	KeyListName         = "list_name"
	KeyUploadKeyType    = "upload_key_type"
	KeyOperation        = "operation"
	KeyConversionAction = "conversion_action"
)

// Offline user data job types.
const (
	JobTypeCustomerMatch   = "CUSTOMER_MATCH_USER_LIST"
	JobTypeStoreSales      = "STORE_SALES_UPLOAD_FIRST_PARTY"
	JobTypeStoreSalesThird = "STORE_SALES_UPLOAD_THIRD_PARTY"
)

// Job operation kinds.
const (
	OperationCreate = "create"
	OperationRemove = "remove"
)

// ErrMissingCustomerID is returned when a target has no customer.
var ErrMissingCustomerID = errors.New("customer_id is required")

// Target is the typed form of the target identifiers of one invocation.
type Target struct {
	CustomerID       string
	LoginCustomerID  string
	JobType          string
	ListID           string
	ListName         string
	UploadKeyType    string
	Operation        string
	ConversionAction string
}

// ParseTarget reads target identifiers. Customer IDs may be written with
// dashes (123-456-7890).
func ParseTarget(ids map[string]string) (Target, error) {
	t := Target{
		CustomerID:       normalizeCustomerID(ids[KeyCustomerID]),
		LoginCustomerID:  normalizeCustomerID(ids[KeyLoginCustomerID]),
		JobType:          strings.ToUpper(strings.TrimSpace(ids[KeyJobType])),
		ListID:           strings.TrimSpace(ids[KeyListID]),
		ListName:         strings.TrimSpace(ids[KeyListName]),
		UploadKeyType:    strings.ToUpper(strings.TrimSpace(ids[KeyUploadKeyType])),
		Operation:        strings.ToLower(strings.TrimSpace(ids[KeyOperation])),
		ConversionAction: strings.TrimSpace(ids[KeyConversionAction]),
	}
	if t.CustomerID == "" {
		return Target{}, ErrMissingCustomerID
	}
	if t.Operation == "" {
		t.Operation = OperationCreate
	}
	if t.Operation != OperationCreate && t.Operation != OperationRemove {
		return Target{}, fmt.Errorf("operation must be %q or %q, got %q", OperationCreate, OperationRemove, t.Operation)
	}
	if t.UploadKeyType == "" {
		t.UploadKeyType = "CONTACT_INFO"
	}
	return t, nil
}

// UserListResource returns the user list resource name, or "" if the target
// names no list.
func (t Target) UserListResource() string {
	if t.ListID == "" {
		return ""
	}
	if strings.HasPrefix(t.ListID, "customers/") {
		return t.ListID
	}
	return fmt.Sprintf("customers/%s/userLists/%s", t.CustomerID, t.ListID)
}

// ConversionActionResource returns the conversion action resource name, or ""
// when none is configured.
func (t Target) ConversionActionResource() string {
	if t.ConversionAction == "" {
		return ""
	}
	if strings.HasPrefix(t.ConversionAction, "customers/") {
		return t.ConversionAction
	}
	return fmt.Sprintf("customers/%s/conversionActions/%s", t.CustomerID, t.ConversionAction)
}

func normalizeCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}
